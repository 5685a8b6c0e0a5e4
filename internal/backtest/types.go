package backtest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OrderType represents the order type
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// OrderSide represents the order side
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus represents the order lifecycle state
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// TrendDirection classifies the day's price action
type TrendDirection string

const (
	TrendBullish  TrendDirection = "BULLISH"
	TrendBearish  TrendDirection = "BEARISH"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// ErrMarketClosed signals that an order arrived outside market hours.
// It is a control-flow error: the caller queues the order and retries
// on the next open.
var ErrMarketClosed = errors.New("market closed")

// Order represents an intended trade. Status transitions are owned by
// the trade simulator.
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Type       OrderType   `json:"type"`
	Side       OrderSide   `json:"side"`
	Quantity   int64       `json:"quantity"`
	LimitPrice float64     `json:"limit_price,omitempty"`
	StopPrice  float64     `json:"stop_price,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     OrderStatus `json:"status"`
}

// NewOrder creates a pending order with a fresh id
func NewOrder(symbol string, typ OrderType, side OrderSide, quantity int64, ts time.Time) *Order {
	return &Order{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Type:      typ,
		Side:      side,
		Quantity:  quantity,
		Timestamp: ts,
		Status:    OrderStatusPending,
	}
}

// MarketCondition is a snapshot of market state at execution time
type MarketCondition struct {
	Volatility   float64        `json:"volatility"`
	Volume       float64        `json:"volume"`
	BidAskSpread float64        `json:"bid_ask_spread"`
	Trend        TrendDirection `json:"trend"`
}

// ExecutedTrade is an immutable record of a fill
type ExecutedTrade struct {
	OrderID         string          `json:"order_id"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Quantity        int64           `json:"quantity"`
	ExecutionPrice  float64         `json:"execution_price"`
	Commission      float64         `json:"commission"`
	Slippage        float64         `json:"slippage"`
	MarketImpact    float64         `json:"market_impact"`
	ExecutionDelay  time.Duration   `json:"execution_delay"`
	Timestamp       time.Time       `json:"timestamp"`
	MarketCondition MarketCondition `json:"market_condition"`
}

// Position represents a holding in a single symbol
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	AveragePrice  float64   `json:"average_price"`
	MarketValue   float64   `json:"market_value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Portfolio is an immutable snapshot of account state. Transitions are
// pure: ApplyTrade and Revalue return new values.
type Portfolio struct {
	Cash       float64             `json:"cash"`
	TotalValue float64             `json:"total_value"`
	Positions  map[string]Position `json:"positions"`
	Trades     []ExecutedTrade     `json:"trades"`
	Timestamp  time.Time           `json:"timestamp"`
}

// EquityPoint represents one day of the equity curve
type EquityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	PortfolioValue float64   `json:"portfolio_value"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	Drawdown       float64   `json:"drawdown"`
}

// EquityCurve represents the portfolio value time series
type EquityCurve struct {
	Points      []EquityPoint `json:"points"`
	StartValue  float64       `json:"start_value"`
	EndValue    float64       `json:"end_value"`
	PeakValue   float64       `json:"peak_value"`
	TroughValue float64       `json:"trough_value"`
}

// DrawdownPeriod represents one peak-to-recovery decline
type DrawdownPeriod struct {
	StartDate       time.Time     `json:"start_date"`
	EndDate         time.Time     `json:"end_date"`
	PeakValue       float64       `json:"peak_value"`
	TroughValue     float64       `json:"trough_value"`
	DrawdownPercent float64       `json:"drawdown_percent"`
	Duration        time.Duration `json:"duration"`
	RecoveryDate    *time.Time    `json:"recovery_date,omitempty"`
	RecoveryTime    time.Duration `json:"recovery_time,omitempty"`
}

// DrawdownAnalysis aggregates drawdown periods
type DrawdownAnalysis struct {
	Periods             []DrawdownPeriod `json:"periods"`
	MaxDrawdown         float64          `json:"max_drawdown"`
	AverageRecoveryTime time.Duration    `json:"average_recovery_time"`
}

// ReturnMetrics groups return statistics
type ReturnMetrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	CumulativeReturn float64 `json:"cumulative_return"`
}

// RiskMetrics groups risk statistics
type RiskMetrics struct {
	Volatility   float64 `json:"volatility"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`
	CalmarRatio  float64 `json:"calmar_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
}

// TradeStatistics groups per-trade statistics
type TradeStatistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
}

// BenchmarkMetrics groups CAPM-style statistics against a benchmark
type BenchmarkMetrics struct {
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	TrackingError    float64 `json:"tracking_error"`
	InformationRatio float64 `json:"information_ratio"`
}

// PerformanceMetrics aggregates all performance statistics
type PerformanceMetrics struct {
	Returns   ReturnMetrics     `json:"returns"`
	Risk      RiskMetrics       `json:"risk"`
	Trades    TradeStatistics   `json:"trades"`
	Benchmark *BenchmarkMetrics `json:"benchmark,omitempty"`
}

// ValidationResult represents the outcome of strategy validation
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Config represents backtest run configuration
type Config struct {
	Symbols              []string  `json:"symbols"`
	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	InitialCapital       float64   `json:"initial_capital"`
	PositionSizeFraction float64   `json:"position_size_fraction"`
	RiskFreeRate         float64   `json:"risk_free_rate"`
	BenchmarkReturns     []float64 `json:"benchmark_returns,omitempty"`
}

// Result represents the full outcome of a backtest run
type Result struct {
	Config      Config              `json:"config"`
	Strategy    string              `json:"strategy"`
	Trades      []ExecutedTrade     `json:"trades"`
	Portfolio   Portfolio           `json:"portfolio"`
	Performance *PerformanceMetrics `json:"performance"`
	Equity      *EquityCurve        `json:"equity"`
	Drawdowns   *DrawdownAnalysis   `json:"drawdowns"`
	StartDate   time.Time           `json:"start_date"`
	EndDate     time.Time           `json:"end_date"`
	Duration    time.Duration       `json:"duration"`
	Warnings    []string            `json:"warnings,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// ResultsSink persists backtest outcomes. Persistence is best effort:
// the engine logs and swallows sink failures.
type ResultsSink interface {
	StoreBacktestResult(ctx context.Context, result *Result) error
	StorePerformanceMetrics(ctx context.Context, name string, metrics *PerformanceMetrics, meta map[string]any) error
}
