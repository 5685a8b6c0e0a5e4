package strategy

import (
	"context"
	"math"

	"qback/internal/market"
)

// MACrossStrategy is a moving-average crossover strategy. It buys when
// the fast average crosses above the slow average and sells on the
// opposite cross. Price history accumulates across Analyze calls, so
// the strategy must be Reset between independent runs.
type MACrossStrategy struct {
	*BaseStrategy
	history map[string][]float64
}

// NewMACrossStrategy creates a moving-average crossover strategy.
// Recognized parameters: fast_period, slow_period.
func NewMACrossStrategy(config *Config) *MACrossStrategy {
	if config == nil {
		config = &Config{
			MaxPositionSize: 0.1,
			LookbackPeriod:  50,
			Parameters: map[string]float64{
				"fast_period": 10,
				"slow_period": 30,
			},
		}
	}
	return &MACrossStrategy{
		BaseStrategy: NewBaseStrategy("ma_cross", config),
		history:      make(map[string][]float64),
	}
}

// Validate implements Strategy
func (s *MACrossStrategy) Validate() bool {
	if !s.BaseStrategy.Validate() {
		return false
	}
	fast, slow := s.periods()
	return fast > 0 && slow > fast
}

// Reset clears accumulated price history
func (s *MACrossStrategy) Reset() {
	s.history = make(map[string][]float64)
}

// Analyze implements Strategy
func (s *MACrossStrategy) Analyze(ctx context.Context, data []market.Data) ([]Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fast, slow := s.periods()
	signals := make([]Signal, 0, len(data))

	for _, bar := range data {
		prices := append(s.history[bar.Symbol], bar.Close)
		if len(prices) > slow+1 {
			prices = prices[len(prices)-slow-1:]
		}
		s.history[bar.Symbol] = prices

		if len(prices) <= slow {
			continue
		}

		fastNow := sma(prices[len(prices)-fast:])
		slowNow := sma(prices[len(prices)-slow:])
		fastPrev := sma(prices[len(prices)-fast-1 : len(prices)-1])
		slowPrev := sma(prices[len(prices)-slow-1 : len(prices)-1])

		action := ActionHold
		if fastPrev <= slowPrev && fastNow > slowNow {
			action = ActionBuy
		} else if fastPrev >= slowPrev && fastNow < slowNow {
			action = ActionSell
		}
		if action == ActionHold {
			continue
		}

		spread := math.Abs(fastNow-slowNow) / slowNow
		signals = append(signals, Signal{
			Action:     action,
			Symbol:     bar.Symbol,
			Price:      bar.Close,
			Confidence: math.Min(1, spread*50),
			Timestamp:  bar.Date,
		})
	}

	return signals, nil
}

func (s *MACrossStrategy) periods() (int, int) {
	fast := int(s.config.Parameters["fast_period"])
	slow := int(s.config.Parameters["slow_period"])
	if fast <= 0 {
		fast = 10
	}
	if slow <= 0 {
		slow = 30
	}
	return fast, slow
}

func sma(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
