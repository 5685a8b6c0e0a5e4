package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 16, 0, 0, 0, time.UTC)
}

func buy(symbol string, qty int64, price, commission float64, ts time.Time) ExecutedTrade {
	return ExecutedTrade{
		OrderID:        "test",
		Symbol:         symbol,
		Side:           OrderSideBuy,
		Quantity:       qty,
		ExecutionPrice: price,
		Commission:     commission,
		Timestamp:      ts,
	}
}

func sell(symbol string, qty int64, price, commission float64, ts time.Time) ExecutedTrade {
	t := buy(symbol, qty, price, commission, ts)
	t.Side = OrderSideSell
	return t
}

func TestApplyTradeBuy(t *testing.T) {
	p := NewPortfolio(100000, day(1))

	next, err := ApplyTrade(p, buy("AAPL", 100, 150, 1, day(2)))
	require.NoError(t, err)

	assert.InDelta(t, 84999.0, next.Cash, 1e-9)
	pos := next.Positions["AAPL"]
	assert.Equal(t, int64(100), pos.Quantity)
	assert.InDelta(t, 150.0, pos.AveragePrice, 1e-9)
	assert.InDelta(t, 15000.0, pos.MarketValue, 1e-9)
	assert.InDelta(t, 99999.0, next.TotalValue, 1e-9)
}

func TestApplyTradeAveragesBuys(t *testing.T) {
	p := NewPortfolio(100000, day(1))

	p1, err := ApplyTrade(p, buy("AAPL", 100, 150, 0, day(2)))
	require.NoError(t, err)
	p2, err := ApplyTrade(p1, buy("AAPL", 100, 160, 0, day(3)))
	require.NoError(t, err)

	assert.InDelta(t, 155.0, p2.Positions["AAPL"].AveragePrice, 1e-9)
	assert.Equal(t, int64(200), p2.Positions["AAPL"].Quantity)

	p3, err := ApplyTrade(p2, sell("AAPL", 50, 165, 1, day(4)))
	require.NoError(t, err)

	// (165-155)*50 - 1 commission
	assert.InDelta(t, 499.0, p3.Positions["AAPL"].RealizedPnL, 1e-9)
	assert.Equal(t, int64(150), p3.Positions["AAPL"].Quantity)
	assert.InDelta(t, 100000-15000-16000+165*50-1, p3.Cash, 1e-9)
}

func TestApplyTradeDoesNotMutateInput(t *testing.T) {
	p := NewPortfolio(100000, day(1))

	next, err := ApplyTrade(p, buy("AAPL", 10, 150, 1, day(2)))
	require.NoError(t, err)

	assert.InDelta(t, 100000.0, p.Cash, 1e-9)
	assert.Empty(t, p.Positions)
	assert.Empty(t, p.Trades)
	assert.NotEqual(t, p.Cash, next.Cash)

	// Mutating the new snapshot must not leak back either
	next.Positions["AAPL"] = Position{Symbol: "AAPL", Quantity: 999}
	assert.Empty(t, p.Positions)
}

func TestApplyTradeSellClampedToHeld(t *testing.T) {
	p := NewPortfolio(100000, day(1))

	p1, err := ApplyTrade(p, buy("AAPL", 50, 100, 0, day(2)))
	require.NoError(t, err)

	p2, err := ApplyTrade(p1, sell("AAPL", 100, 110, 0, day(3)))
	require.NoError(t, err)

	// Only 50 shares sold, position fully closed and removed
	assert.NotContains(t, p2.Positions, "AAPL")
	assert.InDelta(t, 100000-5000+50*110, p2.Cash, 1e-9)
	assert.InDelta(t, p2.Cash, p2.TotalValue, 1e-9)
}

func TestApplyTradeErrors(t *testing.T) {
	p := NewPortfolio(100, day(1))

	_, err := ApplyTrade(p, buy("AAPL", 100, 150, 1, day(2)))
	assert.Error(t, err, "insufficient cash")

	_, err = ApplyTrade(p, sell("AAPL", 10, 150, 1, day(2)))
	assert.Error(t, err, "no position to sell")

	_, err = ApplyTrade(p, buy("AAPL", 0, 150, 1, day(2)))
	assert.Error(t, err, "non-positive quantity")

	// Failed transitions leave the portfolio untouched
	assert.InDelta(t, 100.0, p.Cash, 1e-9)
	assert.Empty(t, p.Positions)
}

func TestRevalue(t *testing.T) {
	p := NewPortfolio(100000, day(1))
	p1, err := ApplyTrade(p, buy("AAPL", 100, 150, 0, day(2)))
	require.NoError(t, err)

	p2 := Revalue(p1, map[string]float64{"AAPL": 160}, day(3))

	pos := p2.Positions["AAPL"]
	assert.InDelta(t, 16000.0, pos.MarketValue, 1e-9)
	assert.InDelta(t, 1000.0, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, p2.Cash+16000, p2.TotalValue, 1e-9)

	// Symbols without a price keep their last market value
	p3 := Revalue(p1, map[string]float64{}, day(3))
	assert.InDelta(t, p1.Positions["AAPL"].MarketValue, p3.Positions["AAPL"].MarketValue, 1e-9)
}
