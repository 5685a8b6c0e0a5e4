package strategy

import (
	"context"
	"time"

	"qback/internal/market"
)

// Action represents a trading signal action
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal represents a trading signal emitted by a strategy
type Signal struct {
	Action     Action    `json:"action"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size,omitempty"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config represents strategy configuration
type Config struct {
	MaxPositionSize   float64            `yaml:"max_position_size"`
	LookbackPeriod    int                `yaml:"lookback_period"`
	StopLossPercent   float64            `yaml:"stop_loss_percent"`
	TakeProfitPercent float64            `yaml:"take_profit_percent"`
	Parameters        map[string]float64 `yaml:"parameters"`
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Parameters = make(map[string]float64, len(c.Parameters))
	for k, v := range c.Parameters {
		clone.Parameters[k] = v
	}
	return &clone
}

// Strategy defines the capability interface consumed by the backtest
// engine. Implementations are analyzed day by day: each Analyze call
// receives one day's cross-sectional market data.
type Strategy interface {
	// Name returns the strategy identifier
	Name() string

	// Validate reports whether the strategy is ready to run
	Validate() bool

	// Analyze produces signals for one day of market data
	Analyze(ctx context.Context, data []market.Data) ([]Signal, error)

	// Config returns the live strategy configuration
	Config() *Config

	// UpdateConfig merges a partial parameter set into the configuration
	UpdateConfig(params map[string]float64)
}

// Resettable is implemented by strategies that carry state between
// Analyze calls. The engine resets such strategies before each run.
type Resettable interface {
	Reset()
}

// BaseStrategy provides common functionality for strategies
type BaseStrategy struct {
	name   string
	config *Config
}

// NewBaseStrategy creates a new base strategy
func NewBaseStrategy(name string, config *Config) *BaseStrategy {
	if config == nil {
		config = &Config{}
	}
	if config.Parameters == nil {
		config.Parameters = make(map[string]float64)
	}
	return &BaseStrategy{name: name, config: config}
}

// Name implements Strategy
func (s *BaseStrategy) Name() string {
	return s.name
}

// Validate implements Strategy
func (s *BaseStrategy) Validate() bool {
	return s.config != nil
}

// Config implements Strategy
func (s *BaseStrategy) Config() *Config {
	return s.config
}

// UpdateConfig implements Strategy
func (s *BaseStrategy) UpdateConfig(params map[string]float64) {
	for k, v := range params {
		s.config.Parameters[k] = v
	}
}
