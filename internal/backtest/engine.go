package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"qback/internal/logging"
	"qback/internal/market"
	"qback/internal/strategy"
)

// DefaultPositionSizeFraction is the cash fraction committed per signal
// when the config leaves it unset.
const DefaultPositionSizeFraction = 0.1

// Engine orchestrates a full backtest run: it validates the strategy,
// drives the day-by-day loop and assembles the final result.
type Engine struct {
	provider   market.Provider
	simulator  *Simulator
	calculator *Calculator
	sink       ResultsSink
	logger     *logging.Logger
}

// NewEngine creates a backtest engine. The sink is optional; a nil
// sink disables result persistence.
func NewEngine(provider market.Provider, simulator *Simulator, calculator *Calculator, sink ResultsSink, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Engine{
		provider:   provider,
		simulator:  simulator,
		calculator: calculator,
		sink:       sink,
		logger:     logger.WithField("component", "engine"),
	}
}

// ValidateStrategy checks that a strategy is runnable. Out-of-range
// stop-loss and take-profit values are warnings, not errors.
func (e *Engine) ValidateStrategy(strat strategy.Strategy) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if strat == nil {
		result.IsValid = false
		result.Errors = append(result.Errors, "strategy is nil")
		return result
	}
	if !strat.Validate() {
		result.IsValid = false
		result.Errors = append(result.Errors, "strategy failed self-validation")
	}

	cfg := strat.Config()
	if cfg == nil {
		result.IsValid = false
		result.Errors = append(result.Errors, "strategy has no configuration")
		return result
	}
	if cfg.MaxPositionSize <= 0 || cfg.MaxPositionSize > 1 {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("max_position_size must be in (0,1], got %v", cfg.MaxPositionSize))
	}
	if cfg.LookbackPeriod <= 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("lookback_period must be positive, got %d", cfg.LookbackPeriod))
	}
	if cfg.StopLossPercent < 0 || cfg.StopLossPercent > 1 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("stop_loss_percent %v outside [0,1]", cfg.StopLossPercent))
	}
	if cfg.TakeProfitPercent < 0 || cfg.TakeProfitPercent > 1 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("take_profit_percent %v outside [0,1]", cfg.TakeProfitPercent))
	}
	return result
}

// Run executes the backtest. A failure on an individual day or trade
// becomes a warning and does not halt the loop.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, config Config) (*Result, error) {
	started := time.Now()

	validation := e.ValidateStrategy(strat)
	if !validation.IsValid {
		return nil, fmt.Errorf("strategy validation failed: %v", validation.Errors)
	}

	if r, ok := strat.(strategy.Resettable); ok {
		r.Reset()
	}

	if config.PositionSizeFraction <= 0 {
		config.PositionSizeFraction = DefaultPositionSizeFraction
	}

	data, err := e.provider.LoadHistoricalData(ctx, config.Symbols, market.DateRange{Start: config.StartDate, End: config.EndDate})
	if err != nil {
		return nil, fmt.Errorf("failed to load historical data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no historical data for %v between %s and %s",
			config.Symbols, config.StartDate.Format(market.DateKeyFormat), config.EndDate.Format(market.DateKeyFormat))
	}

	warnings := append([]string(nil), validation.Warnings...)
	if report := e.provider.ValidateHistoricalData(data); report != nil && len(report.Issues) > 0 {
		warnings = append(warnings, report.Issues...)
	}

	dates := market.SortedDateKeys(data)
	portfolio := NewPortfolio(config.InitialCapital, config.StartDate)
	history := make([]Portfolio, 0, len(dates))
	var trades []ExecutedTrade

	for _, dateKey := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		date, _ := time.Parse(market.DateKeyFormat, dateKey)
		dayData := data[dateKey]
		bySymbol := make(map[string]market.Data, len(dayData))
		closes := make(map[string]float64, len(dayData))
		for _, bar := range dayData {
			bySymbol[bar.Symbol] = bar
			closes[bar.Symbol] = bar.Close
		}

		// Orders queued from a prior day fill first, at the open
		for _, trade := range e.simulator.ProcessQueuedOrders(bySymbol, date) {
			next, err := ApplyTrade(portfolio, *trade)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: queued trade failed: %v", dateKey, err))
				continue
			}
			portfolio = next
			trades = append(trades, *trade)
		}

		signals, err := strat.Analyze(ctx, dayData)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: strategy analysis failed: %v", dateKey, err))
			history = append(history, Revalue(portfolio, closes, date))
			continue
		}

		for _, signal := range signals {
			trade, err := e.executeSignal(signal, portfolio, bySymbol, config, date)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", dateKey, err))
				continue
			}
			if trade == nil {
				continue
			}
			next, err := ApplyTrade(portfolio, *trade)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: trade failed: %v", dateKey, err))
				continue
			}
			portfolio = next
			trades = append(trades, *trade)
		}

		history = append(history, Revalue(portfolio, closes, date))
	}

	curve := e.calculator.GenerateEquityCurve(history)
	performance := e.calculator.CalculatePerformanceMetrics(trades, curve, config.InitialCapital)
	drawdowns := e.calculator.CalculateDrawdownAnalysis(curve)

	if len(config.BenchmarkReturns) > 0 {
		performance.Benchmark = e.calculator.CalculateBenchmarkMetrics(DailyReturns(curve), config.BenchmarkReturns, performance.Returns.AnnualizedReturn)
	}

	result := &Result{
		Config:      config,
		Strategy:    strat.Name(),
		Trades:      trades,
		Portfolio:   portfolio,
		Performance: performance,
		Equity:      curve,
		Drawdowns:   drawdowns,
		StartDate:   config.StartDate,
		EndDate:     config.EndDate,
		Duration:    time.Since(started),
		Warnings:    warnings,
		Metadata: map[string]any{
			"trading_days": len(dates),
			"trade_count":  len(trades),
		},
	}

	e.persist(ctx, strat.Name(), result)

	e.logger.WithFields(map[string]interface{}{
		"strategy":     strat.Name(),
		"trading_days": len(dates),
		"trades":       len(trades),
		"final_value":  portfolio.TotalValue,
		"warnings":     len(warnings),
	}).Info("backtest completed")

	return result, nil
}

// executeSignal sizes and simulates one actionable signal. A market
// closed condition queues the order and returns no trade.
func (e *Engine) executeSignal(signal strategy.Signal, portfolio Portfolio, bySymbol map[string]market.Data, config Config, date time.Time) (*ExecutedTrade, error) {
	if signal.Action == strategy.ActionHold {
		return nil, nil
	}

	bar, ok := bySymbol[signal.Symbol]
	if !ok {
		return nil, fmt.Errorf("no market data for signal on %s", signal.Symbol)
	}

	price := signal.Price
	if price <= 0 {
		price = bar.Close
	}
	if price <= 0 {
		return nil, fmt.Errorf("no usable price for signal on %s", signal.Symbol)
	}

	quantity := int64(math.Floor(portfolio.Cash * config.PositionSizeFraction / price))

	var side OrderSide
	switch signal.Action {
	case strategy.ActionBuy:
		side = OrderSideBuy
	case strategy.ActionSell:
		side = OrderSideSell
		held := portfolio.Positions[signal.Symbol].Quantity
		if held == 0 {
			return nil, nil
		}
		if quantity == 0 || quantity > held {
			quantity = held
		}
	default:
		return nil, fmt.Errorf("unknown signal action %q", signal.Action)
	}

	if quantity <= 0 {
		return nil, nil
	}

	// Mid-session execution time so the market-hours gate sees a
	// regular trading timestamp
	ts := time.Date(date.Year(), date.Month(), date.Day(), 10, 0, 0, 0, date.Location())
	order := NewOrder(signal.Symbol, OrderTypeMarket, side, quantity, ts)

	trade, err := e.simulator.SimulateTrade(order, bar)
	if err != nil {
		if errors.Is(err, ErrMarketClosed) {
			e.simulator.QueueOrder(order)
			return nil, nil
		}
		return nil, fmt.Errorf("simulation failed for %s: %w", signal.Symbol, err)
	}
	return trade, nil
}

// persist stores the result best effort; failures are logged and
// swallowed, never propagated.
func (e *Engine) persist(ctx context.Context, name string, result *Result) {
	if e.sink == nil {
		return
	}
	if err := e.sink.StoreBacktestResult(ctx, result); err != nil {
		e.logger.WithError(err).Warn("failed to store backtest result")
	}
	meta := map[string]any{
		"start_date": result.StartDate.Format(market.DateKeyFormat),
		"end_date":   result.EndDate.Format(market.DateKeyFormat),
	}
	if err := e.sink.StorePerformanceMetrics(ctx, name, result.Performance, meta); err != nil {
		e.logger.WithError(err).Warn("failed to store performance metrics")
	}
}
