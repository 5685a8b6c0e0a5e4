package backtest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qback/internal/market"
)

func quietBar(symbol string, close float64) market.Data {
	return market.Data{
		Symbol:        symbol,
		Date:          time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		Open:          close,
		High:          close * 1.005,
		Low:           close * 0.995,
		Close:         close,
		Volume:        1_000_000,
		AverageVolume: 1_000_000,
	}
}

// Monday 10:00, inside regular trading hours
func tradingTime() time.Time {
	return time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
}

func TestSimulateTradeFrictionDirection(t *testing.T) {
	sim := NewSimulator(nil, nil)
	bar := quietBar("AAPL", 150)

	buyTrade, err := sim.SimulateTrade(NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 100, tradingTime()), bar)
	require.NoError(t, err)
	sellTrade, err := sim.SimulateTrade(NewOrder("AAPL", OrderTypeMarket, OrderSideSell, 100, tradingTime()), bar)
	require.NoError(t, err)

	// Frictions always work against the trader
	assert.Greater(t, buyTrade.ExecutionPrice, bar.Close)
	assert.Less(t, sellTrade.ExecutionPrice, bar.Close)
	assert.Greater(t, buyTrade.Slippage, 0.0)
	assert.Greater(t, buyTrade.MarketImpact, 0.0)
}

func TestSimulateTradeCommission(t *testing.T) {
	sim := NewSimulator(nil, nil)
	bar := quietBar("AAPL", 150)

	small, err := sim.SimulateTrade(NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 1, tradingTime()), bar)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, small.Commission, 1e-9, "minimum commission applies to small trades")

	large, err := sim.SimulateTrade(NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 10000, tradingTime()), bar)
	require.NoError(t, err)
	expected := large.ExecutionPrice * 10000 * 0.001
	assert.InDelta(t, expected, large.Commission, 1e-6, "proportional commission above the floor")
}

func TestSimulateTradeRejectsNonPositiveQuantity(t *testing.T) {
	sim := NewSimulator(nil, nil)
	order := NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 0, tradingTime())

	_, err := sim.SimulateTrade(order, quietBar("AAPL", 150))
	assert.Error(t, err)
	assert.Equal(t, OrderStatusRejected, order.Status)
}

func TestMarketHoursGate(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.EnforceMarketHours = true
	sim := NewSimulator(cfg, nil)
	bar := quietBar("AAPL", 150)

	saturday := time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)
	_, err := sim.SimulateTrade(NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 100, saturday), bar)
	assert.True(t, errors.Is(err, ErrMarketClosed))

	beforeOpen := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	_, err = sim.SimulateTrade(NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 100, beforeOpen), bar)
	assert.True(t, errors.Is(err, ErrMarketClosed))

	_, err = sim.SimulateTrade(NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 100, tradingTime()), bar)
	assert.NoError(t, err)
}

func TestQueuedOrdersFillAtNextOpen(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.EnforceMarketHours = true
	sim := NewSimulator(cfg, nil)

	order := NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 100, time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC))
	sim.QueueOrder(order)
	assert.Equal(t, 1, sim.PendingOrders())
	assert.Equal(t, OrderStatusPending, order.Status)

	bar := quietBar("AAPL", 150)
	bar.Open = 152
	monday := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	trades := sim.ProcessQueuedOrders(map[string]market.Data{"AAPL": bar}, monday)
	require.Len(t, trades, 1)
	assert.InDelta(t, 152.0, trades[0].ExecutionPrice, 1e-9, "queued orders fill at the open")
	assert.Equal(t, OrderStatusFilled, order.Status)
	assert.Equal(t, 0, sim.PendingOrders())
}

func TestQueuedOrderWithoutDataRejected(t *testing.T) {
	sim := NewSimulator(nil, nil)
	order := NewOrder("MSFT", OrderTypeMarket, OrderSideBuy, 100, tradingTime())
	sim.QueueOrder(order)

	trades := sim.ProcessQueuedOrders(map[string]market.Data{"AAPL": quietBar("AAPL", 150)}, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, trades)
	assert.Equal(t, OrderStatusRejected, order.Status)
	assert.Equal(t, 0, sim.PendingOrders())
}

func TestExecutionDelayClamped(t *testing.T) {
	fast := DefaultSimulatorConfig()
	fast.BaseDelay = time.Millisecond
	sim := NewSimulator(fast, nil)

	trade, err := sim.SimulateTrade(NewOrder("AAPL", OrderTypeMarket, OrderSideBuy, 1, tradingTime()), quietBar("AAPL", 150))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, trade.ExecutionDelay)

	slow := DefaultSimulatorConfig()
	slow.BaseDelay = time.Minute
	sim = NewSimulator(slow, nil)

	volatile := quietBar("AAPL", 150)
	volatile.High = 300
	volatile.Low = 50
	trade, err = sim.SimulateTrade(NewOrder("AAPL", OrderTypeLimit, OrderSideBuy, 500_000, tradingTime()), volatile)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, trade.ExecutionDelay)
}

func TestDeriveMarketCondition(t *testing.T) {
	bar := quietBar("AAPL", 150)
	bar.Open = 140
	bar.Close = 150

	cond := DeriveMarketCondition(bar)
	assert.Equal(t, TrendBullish, cond.Trend)
	assert.Greater(t, cond.BidAskSpread, 0.0)

	bar.Open = 150
	bar.Close = 140
	assert.Equal(t, TrendBearish, DeriveMarketCondition(bar).Trend)

	bar.Close = 150
	assert.Equal(t, TrendSideways, DeriveMarketCondition(bar).Trend)
}
