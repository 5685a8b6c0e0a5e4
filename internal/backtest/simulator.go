package backtest

import (
	"fmt"
	"math"
	"time"

	"qback/internal/logging"
	"qback/internal/market"
)

// SimulatorConfig represents trade simulator configuration
type SimulatorConfig struct {
	CommissionRate     float64
	MinCommission      float64
	BaseSlippageRate   float64
	ImpactCoefficient  float64
	BaseDelay          time.Duration
	MinPrice           float64
	EnforceMarketHours bool
}

// DefaultSimulatorConfig returns the default friction model parameters
func DefaultSimulatorConfig() *SimulatorConfig {
	return &SimulatorConfig{
		CommissionRate:    0.001,
		MinCommission:     1.0,
		BaseSlippageRate:  0.0005,
		ImpactCoefficient: 0.001,
		BaseDelay:         200 * time.Millisecond,
		MinPrice:          0.01,
	}
}

// Execution delay bounds
const (
	minExecutionDelay = 50 * time.Millisecond
	maxExecutionDelay = 5 * time.Second
)

// Simulator converts intended orders into executed trades, modeling
// spread, slippage, market impact, commission and execution delay. It
// owns market-hours gating and the pending order queue.
type Simulator struct {
	config  *SimulatorConfig
	pending []*Order
	logger  *logging.Logger
}

// NewSimulator creates a new trade simulator
func NewSimulator(config *SimulatorConfig, logger *logging.Logger) *Simulator {
	if config == nil {
		config = DefaultSimulatorConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Simulator{
		config: config,
		logger: logger.WithField("component", "simulator"),
	}
}

// DeriveMarketCondition derives the execution-time market snapshot
// from a daily bar.
func DeriveMarketCondition(bar market.Data) MarketCondition {
	volatility := 0.0
	if mid := bar.Midpoint(); mid > 0 {
		volatility = (bar.High - bar.Low) / mid
	}

	// Base 10bp spread, widened by volatility and volume scarcity
	scarcity := 0.004
	if bar.Volume > 0 {
		scarcity = math.Min(0.004, 10000/bar.Volume*0.001)
	}
	spread := bar.Close * (0.001 + volatility*0.1 + scarcity)

	trend := TrendSideways
	if bar.Open > 0 {
		change := (bar.Close - bar.Open) / bar.Open
		if change > 0.01 {
			trend = TrendBullish
		} else if change < -0.01 {
			trend = TrendBearish
		}
	}

	return MarketCondition{
		Volatility:   volatility,
		Volume:       bar.Volume,
		BidAskSpread: spread,
		Trend:        trend,
	}
}

// SimulateTrade executes an order against the day's market data.
// Returns ErrMarketClosed when market-hours enforcement is on and the
// order timestamp falls outside trading hours.
func (s *Simulator) SimulateTrade(order *Order, bar market.Data) (*ExecutedTrade, error) {
	if order.Quantity <= 0 {
		order.Status = OrderStatusRejected
		return nil, fmt.Errorf("order %s: quantity must be positive", order.ID)
	}
	if s.config.EnforceMarketHours && !isMarketOpen(order.Timestamp) {
		return nil, fmt.Errorf("order %s at %s: %w", order.ID, order.Timestamp.Format(time.RFC3339), ErrMarketClosed)
	}

	cond := DeriveMarketCondition(bar)
	direction := 1.0
	if order.Side == OrderSideSell {
		direction = -1.0
	}

	// Start from close, or the favorable side of a limit price
	base := bar.Close
	if order.Type == OrderTypeLimit && order.LimitPrice > 0 {
		if order.Side == OrderSideBuy {
			base = math.Min(base, order.LimitPrice)
		} else {
			base = math.Max(base, order.LimitPrice)
		}
	}

	price := base + direction*cond.BidAskSpread/2

	// Slippage: base rate + volume-ratio term capped at 1% + half volatility
	volumeRatio := 0.0
	if bar.Volume > 0 {
		volumeRatio = float64(order.Quantity) / bar.Volume
	}
	slippageRate := s.config.BaseSlippageRate + math.Min(volumeRatio, 0.01) + cond.Volatility/2
	slippage := price * slippageRate
	price += direction * slippage

	// Market impact proportional to sqrt(order value / average volume)
	avgVolume := bar.AverageVolume
	if avgVolume <= 0 {
		avgVolume = bar.Volume
	}
	impact := 0.0
	if avgVolume > 0 {
		orderValue := price * float64(order.Quantity)
		impact = s.config.ImpactCoefficient * math.Sqrt(orderValue/avgVolume) * bar.Close
	}
	price += direction * impact

	if price < s.config.MinPrice {
		price = s.config.MinPrice
	}

	tradeValue := price * float64(order.Quantity)
	commission := math.Max(s.config.MinCommission, tradeValue*s.config.CommissionRate)

	order.Status = OrderStatusFilled

	return &ExecutedTrade{
		OrderID:         order.ID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Quantity:        order.Quantity,
		ExecutionPrice:  price,
		Commission:      commission,
		Slippage:        slippage,
		MarketImpact:    impact,
		ExecutionDelay:  s.executionDelay(order, bar, cond),
		Timestamp:       order.Timestamp,
		MarketCondition: cond,
	}, nil
}

// executionDelay scales the base delay by order size, volatility and
// order type, clamped to [50ms, 5s].
func (s *Simulator) executionDelay(order *Order, bar market.Data, cond MarketCondition) time.Duration {
	sizeRatio := 0.0
	if bar.Volume > 0 {
		sizeRatio = float64(order.Quantity) / bar.Volume
	}

	delay := float64(s.config.BaseDelay) * (1 + sizeRatio*10) * (1 + cond.Volatility*5)
	if order.Type == OrderTypeMarket {
		delay *= 0.5
	}

	d := time.Duration(delay)
	if d < minExecutionDelay {
		d = minExecutionDelay
	}
	if d > maxExecutionDelay {
		d = maxExecutionDelay
	}
	return d
}

// QueueOrder appends an order to the pending queue
func (s *Simulator) QueueOrder(order *Order) {
	order.Status = OrderStatusPending
	s.pending = append(s.pending, order)
	s.logger.WithField("order_id", order.ID).Debug("order queued for next open")
}

// PendingOrders returns the number of queued orders
func (s *Simulator) PendingOrders() int {
	return len(s.pending)
}

// ProcessQueuedOrders replays all pending orders at the day's opening
// price once the market opens. Orders without market data are rejected.
// The queue is cleared.
func (s *Simulator) ProcessQueuedOrders(day map[string]market.Data, date time.Time) []*ExecutedTrade {
	if len(s.pending) == 0 {
		return nil
	}

	openTime := time.Date(date.Year(), date.Month(), date.Day(), 9, 30, 0, 0, date.Location())
	if s.config.EnforceMarketHours && !isMarketOpen(openTime) {
		return nil
	}

	trades := make([]*ExecutedTrade, 0, len(s.pending))
	for _, order := range s.pending {
		bar, ok := day[order.Symbol]
		if !ok || bar.Open <= 0 {
			order.Status = OrderStatusRejected
			s.logger.WithField("order_id", order.ID).Warn("rejecting queued order: no market data")
			continue
		}

		price := math.Max(bar.Open, s.config.MinPrice)
		tradeValue := price * float64(order.Quantity)
		commission := math.Max(s.config.MinCommission, tradeValue*s.config.CommissionRate)
		order.Status = OrderStatusFilled

		trades = append(trades, &ExecutedTrade{
			OrderID:         order.ID,
			Symbol:          order.Symbol,
			Side:            order.Side,
			Quantity:        order.Quantity,
			ExecutionPrice:  price,
			Commission:      commission,
			ExecutionDelay:  minExecutionDelay,
			Timestamp:       openTime,
			MarketCondition: DeriveMarketCondition(bar),
		})
	}

	s.pending = nil
	return trades
}

// isMarketOpen reports whether t falls inside regular trading hours
// (09:30-16:00, Monday through Friday).
func isMarketOpen(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
