package backtest

import (
	"math"
	"time"

	"qback/internal/logging"
)

// DefaultRiskFreeRate is the annual risk-free rate assumed when none
// is configured.
const DefaultRiskFreeRate = 0.02

// tradingDaysPerYear is the annualization factor for daily returns.
const tradingDaysPerYear = 252

// Calculator derives performance, risk and drawdown statistics from a
// trade history and an equity curve. All methods are pure functions of
// their inputs.
type Calculator struct {
	riskFreeRate float64
	logger       *logging.Logger
}

// NewCalculator creates a metrics calculator with the given annual
// risk-free rate.
func NewCalculator(riskFreeRate float64, logger *logging.Logger) *Calculator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Calculator{
		riskFreeRate: riskFreeRate,
		logger:       logger.WithField("component", "metrics"),
	}
}

// GenerateEquityCurve maps portfolio snapshots to an equity curve with
// running-peak drawdowns computed in a single left-to-right pass.
func (c *Calculator) GenerateEquityCurve(history []Portfolio) *EquityCurve {
	curve := &EquityCurve{Points: make([]EquityPoint, 0, len(history))}
	if len(history) == 0 {
		return curve
	}

	peak := history[0].TotalValue
	trough := history[0].TotalValue
	for _, snapshot := range history {
		value := snapshot.TotalValue
		if value > peak {
			peak = value
		}
		if value < trough {
			trough = value
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - value) / peak
		}
		curve.Points = append(curve.Points, EquityPoint{
			Timestamp:      snapshot.Timestamp,
			PortfolioValue: value,
			Cash:           snapshot.Cash,
			PositionsValue: snapshot.PositionsValue(),
			Drawdown:       drawdown,
		})
	}

	curve.StartValue = history[0].TotalValue
	curve.EndValue = history[len(history)-1].TotalValue
	curve.PeakValue = peak
	curve.TroughValue = trough
	return curve
}

// CalculateDrawdownAnalysis segments the curve into drawdown periods.
// A period opens when value falls below the running peak and closes
// when a new peak is set; an unresolved drawdown at the series end is
// recorded open-ended.
func (c *Calculator) CalculateDrawdownAnalysis(curve *EquityCurve) *DrawdownAnalysis {
	analysis := &DrawdownAnalysis{}
	if curve == nil || len(curve.Points) == 0 {
		return analysis
	}

	peak := curve.Points[0].PortfolioValue
	peakDate := curve.Points[0].Timestamp
	var open *DrawdownPeriod

	for _, point := range curve.Points {
		value := point.PortfolioValue
		if value >= peak {
			if open != nil {
				// Recovered: the new peak closes the period
				recovery := point.Timestamp
				open.EndDate = recovery
				open.RecoveryDate = &recovery
				open.RecoveryTime = recovery.Sub(open.StartDate)
				open.Duration = recovery.Sub(open.StartDate)
				analysis.Periods = append(analysis.Periods, *open)
				open = nil
			}
			peak = value
			peakDate = point.Timestamp
			continue
		}

		if open == nil {
			open = &DrawdownPeriod{
				StartDate:   peakDate,
				PeakValue:   peak,
				TroughValue: value,
			}
		}
		if value < open.TroughValue {
			open.TroughValue = value
		}
		if open.PeakValue > 0 {
			open.DrawdownPercent = (open.PeakValue - open.TroughValue) / open.PeakValue
		}
		open.EndDate = point.Timestamp
		open.Duration = point.Timestamp.Sub(open.StartDate)
	}

	if open != nil {
		analysis.Periods = append(analysis.Periods, *open)
	}

	var recoverySum time.Duration
	recovered := 0
	for _, period := range analysis.Periods {
		if period.DrawdownPercent > analysis.MaxDrawdown {
			analysis.MaxDrawdown = period.DrawdownPercent
		}
		if period.RecoveryDate != nil {
			recoverySum += period.RecoveryTime
			recovered++
		}
	}
	if recovered > 0 {
		analysis.AverageRecoveryTime = recoverySum / time.Duration(recovered)
	}
	return analysis
}

// CalculateReturnMetrics derives total and annualized returns from the
// equity curve.
func (c *Calculator) CalculateReturnMetrics(curve *EquityCurve) ReturnMetrics {
	metrics := ReturnMetrics{}
	if curve == nil || len(curve.Points) == 0 || curve.StartValue == 0 {
		return metrics
	}

	metrics.TotalReturn = (curve.EndValue - curve.StartValue) / curve.StartValue
	metrics.CumulativeReturn = metrics.TotalReturn

	first := curve.Points[0].Timestamp
	last := curve.Points[len(curve.Points)-1].Timestamp
	days := last.Sub(first).Hours() / 24
	if days > 0 {
		metrics.AnnualizedReturn = math.Pow(1+metrics.TotalReturn, 365.25/days) - 1
	}
	return metrics
}

// CalculateRiskMetrics derives volatility and risk-adjusted ratios from
// daily equity returns.
func (c *Calculator) CalculateRiskMetrics(curve *EquityCurve, returns ReturnMetrics, maxDrawdown float64) RiskMetrics {
	metrics := RiskMetrics{MaxDrawdown: maxDrawdown}

	daily := DailyReturns(curve)
	if len(daily) < 2 {
		return metrics
	}

	metrics.Volatility = stdev(daily) * math.Sqrt(tradingDaysPerYear)

	dailyRiskFree := c.riskFreeRate / tradingDaysPerYear
	excess := make([]float64, len(daily))
	downside := make([]float64, 0, len(daily))
	for i, r := range daily {
		excess[i] = r - dailyRiskFree
		if r < 0 {
			downside = append(downside, r)
		}
	}
	annualizedExcess := mean(excess) * tradingDaysPerYear

	if metrics.Volatility > 0 {
		metrics.SharpeRatio = annualizedExcess / metrics.Volatility
	}
	if len(downside) >= 2 {
		downsideDev := stdev(downside) * math.Sqrt(tradingDaysPerYear)
		if downsideDev > 0 {
			metrics.SortinoRatio = annualizedExcess / downsideDev
		}
	}
	if maxDrawdown > 0 {
		metrics.CalmarRatio = returns.AnnualizedReturn / maxDrawdown
	}
	return metrics
}

// CalculateTradeStatistics reconstructs round-trip P&L by replaying
// the trade history against per-symbol weighted-average positions.
// Each sell realizes one P&L sample against the running average; a
// sell beyond the held quantity is clamped, never shorted.
func (c *Calculator) CalculateTradeStatistics(trades []ExecutedTrade) TradeStatistics {
	stats := TradeStatistics{TotalTrades: len(trades)}

	type book struct {
		quantity int64
		average  float64
	}
	books := make(map[string]*book)
	var samples []float64

	for _, trade := range trades {
		b := books[trade.Symbol]
		if b == nil {
			b = &book{}
			books[trade.Symbol] = b
		}
		switch trade.Side {
		case OrderSideBuy:
			total := b.quantity + trade.Quantity
			b.average = (b.average*float64(b.quantity) + trade.ExecutionPrice*float64(trade.Quantity)) / float64(total)
			b.quantity = total
		case OrderSideSell:
			if b.quantity == 0 {
				continue
			}
			qty := trade.Quantity
			if qty > b.quantity {
				qty = b.quantity
			}
			pnl := (trade.ExecutionPrice-b.average)*float64(qty) - trade.Commission
			samples = append(samples, pnl)
			b.quantity -= qty
		}
	}

	var grossProfit, grossLoss float64
	for _, pnl := range samples {
		if pnl > 0 {
			stats.WinningTrades++
			grossProfit += pnl
			if pnl > stats.LargestWin {
				stats.LargestWin = pnl
			}
		} else {
			stats.LosingTrades++
			grossLoss += -pnl
			if pnl < stats.LargestLoss {
				stats.LargestLoss = pnl
			}
		}
	}

	if len(samples) > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(len(samples))
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	}
	if stats.WinningTrades > 0 {
		stats.AverageWin = grossProfit / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AverageLoss = -grossLoss / float64(stats.LosingTrades)
	}
	return stats
}

// CalculateBenchmarkMetrics derives CAPM-style statistics of the
// portfolio against benchmark daily returns. Beta defaults to 1 when
// the benchmark variance is zero or the series lengths mismatch.
func (c *Calculator) CalculateBenchmarkMetrics(portfolioReturns, benchmarkReturns []float64, annualizedReturn float64) *BenchmarkMetrics {
	metrics := &BenchmarkMetrics{Beta: 1}
	if len(benchmarkReturns) == 0 {
		return metrics
	}

	if len(portfolioReturns) == len(benchmarkReturns) && len(benchmarkReturns) >= 2 {
		if v := variance(benchmarkReturns); v > 0 {
			metrics.Beta = covariance(portfolioReturns, benchmarkReturns) / v
		}

		diff := make([]float64, len(portfolioReturns))
		for i := range portfolioReturns {
			diff[i] = portfolioReturns[i] - benchmarkReturns[i]
		}
		metrics.TrackingError = stdev(diff) * math.Sqrt(tradingDaysPerYear)
	}

	annualizedBenchmark := mean(benchmarkReturns) * tradingDaysPerYear
	metrics.Alpha = annualizedReturn - (c.riskFreeRate + metrics.Beta*(annualizedBenchmark-c.riskFreeRate))
	if metrics.TrackingError > 0 {
		metrics.InformationRatio = metrics.Alpha / metrics.TrackingError
	}
	return metrics
}

// CalculatePerformanceMetrics composes the full statistics set from a
// trade history, equity curve and starting capital.
func (c *Calculator) CalculatePerformanceMetrics(trades []ExecutedTrade, curve *EquityCurve, initialCapital float64) *PerformanceMetrics {
	drawdowns := c.CalculateDrawdownAnalysis(curve)
	returns := c.CalculateReturnMetrics(curve)
	return &PerformanceMetrics{
		Returns: returns,
		Risk:    c.CalculateRiskMetrics(curve, returns, drawdowns.MaxDrawdown),
		Trades:  c.CalculateTradeStatistics(trades),
	}
}

// DailyReturns derives day-over-day returns from consecutive equity
// points.
func DailyReturns(curve *EquityCurve) []float64 {
	if curve == nil || len(curve.Points) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve.Points)-1)
	for i := 1; i < len(curve.Points); i++ {
		prev := curve.Points[i-1].PortfolioValue
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (curve.Points[i].PortfolioValue-prev)/prev)
	}
	return returns
}

// Statistics helpers

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - m
		sum += diff * diff
	}
	return sum / float64(len(values)-1)
}

func stdev(values []float64) float64 {
	return math.Sqrt(variance(values))
}

func covariance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	meanA, meanB := mean(a), mean(b)
	sum := 0.0
	for i := range a {
		sum += (a[i] - meanA) * (b[i] - meanB)
	}
	return sum / float64(len(a)-1)
}
