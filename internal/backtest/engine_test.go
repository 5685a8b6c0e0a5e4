package backtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qback/internal/market"
	"qback/internal/strategy"
)

// scriptedStrategy emits a fixed action on scripted dates
type scriptedStrategy struct {
	*strategy.BaseStrategy
	script  map[string]strategy.Action
	failOn  string
	resets  int
}

func newScriptedStrategy(script map[string]strategy.Action) *scriptedStrategy {
	return &scriptedStrategy{
		BaseStrategy: strategy.NewBaseStrategy("scripted", &strategy.Config{
			MaxPositionSize: 0.5,
			LookbackPeriod:  1,
		}),
		script: script,
	}
}

func (s *scriptedStrategy) Reset() { s.resets++ }

func (s *scriptedStrategy) Analyze(ctx context.Context, data []market.Data) ([]strategy.Signal, error) {
	var signals []strategy.Signal
	for _, bar := range data {
		key := bar.DateKey()
		if key == s.failOn {
			return nil, fmt.Errorf("scripted analysis failure on %s", key)
		}
		action, ok := s.script[key]
		if !ok {
			continue
		}
		signals = append(signals, strategy.Signal{
			Action:    action,
			Symbol:    bar.Symbol,
			Price:     bar.Close,
			Timestamp: bar.Date,
		})
	}
	return signals, nil
}

// weekdayData builds consecutive weekday bars for one symbol
func weekdayData(symbol string, start time.Time, closes []float64) map[string][]market.Data {
	data := make(map[string][]market.Data, len(closes))
	date := start
	for _, close := range closes {
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}
		bar := market.Data{
			Symbol:        symbol,
			Date:          date,
			Open:          close,
			High:          close * 1.005,
			Low:           close * 0.995,
			Close:         close,
			Volume:        1_000_000,
			AverageVolume: 1_000_000,
		}
		data[bar.DateKey()] = append(data[bar.DateKey()], bar)
		date = date.AddDate(0, 0, 1)
	}
	return data
}

func testEngine(data map[string][]market.Data, sink ResultsSink) *Engine {
	return NewEngine(
		market.NewStaticProvider(data),
		NewSimulator(nil, nil),
		NewCalculator(DefaultRiskFreeRate, nil),
		sink,
		nil,
	)
}

func TestEngineRun(t *testing.T) {
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	data := weekdayData("AAPL", start, []float64{100, 102, 104, 103, 105})

	// Sells are sized from free cash, so the first sell trims the
	// position and the second is clamped to the remainder.
	strat := newScriptedStrategy(map[string]strategy.Action{
		"2024-01-08": strategy.ActionBuy,
		"2024-01-11": strategy.ActionSell,
		"2024-01-12": strategy.ActionSell,
	})

	engine := testEngine(data, nil)
	result, err := engine.Run(context.Background(), strat, Config{
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 10),
		InitialCapital: 100000,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, strat.resets, "stateful strategies are reset before the run")
	require.Len(t, result.Trades, 3)
	assert.Equal(t, OrderSideBuy, result.Trades[0].Side)
	assert.Equal(t, OrderSideSell, result.Trades[1].Side)
	assert.Equal(t, OrderSideSell, result.Trades[2].Side)
	assert.Empty(t, result.Portfolio.Positions, "clamped sells close the position")
	assert.Len(t, result.Equity.Points, 5)
	assert.NotNil(t, result.Performance)
	assert.NotNil(t, result.Drawdowns)
	assert.Equal(t, 5, result.Metadata["trading_days"])
}

func TestEngineAnalysisFailureIsIsolated(t *testing.T) {
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	data := weekdayData("AAPL", start, []float64{100, 102, 104, 103, 105})

	strat := newScriptedStrategy(map[string]strategy.Action{"2024-01-08": strategy.ActionBuy})
	strat.failOn = "2024-01-10"

	engine := testEngine(data, nil)
	result, err := engine.Run(context.Background(), strat, Config{
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 10),
		InitialCapital: 100000,
	})
	require.NoError(t, err, "a failing day becomes a warning, not a run failure")

	assert.Len(t, result.Equity.Points, 5, "the failed day still gets an equity snapshot")
	found := false
	for _, w := range result.Warnings {
		if w == "2024-01-10: strategy analysis failed: scripted analysis failure on 2024-01-10" {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", result.Warnings)
}

func TestEngineSellWithoutPositionSkipped(t *testing.T) {
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	data := weekdayData("AAPL", start, []float64{100, 102})

	strat := newScriptedStrategy(map[string]strategy.Action{"2024-01-08": strategy.ActionSell})

	engine := testEngine(data, nil)
	result, err := engine.Run(context.Background(), strat, Config{
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 5),
		InitialCapital: 100000,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
}

func TestEngineNoData(t *testing.T) {
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	engine := testEngine(map[string][]market.Data{}, nil)

	_, err := engine.Run(context.Background(), newScriptedStrategy(nil), Config{
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 5),
		InitialCapital: 100000,
	})
	assert.Error(t, err)
}

func TestValidateStrategy(t *testing.T) {
	engine := testEngine(map[string][]market.Data{}, nil)

	result := engine.ValidateStrategy(nil)
	assert.False(t, result.IsValid)

	bad := newScriptedStrategy(nil)
	bad.Config().MaxPositionSize = 0
	result = engine.ValidateStrategy(bad)
	assert.False(t, result.IsValid)

	bad = newScriptedStrategy(nil)
	bad.Config().LookbackPeriod = 0
	result = engine.ValidateStrategy(bad)
	assert.False(t, result.IsValid)

	warned := newScriptedStrategy(nil)
	warned.Config().StopLossPercent = 2
	result = engine.ValidateStrategy(warned)
	assert.True(t, result.IsValid)
	assert.NotEmpty(t, result.Warnings)
}

// recordingSink captures persisted results
type recordingSink struct {
	results int
	metrics int
	fail    bool
}

func (s *recordingSink) StoreBacktestResult(ctx context.Context, result *Result) error {
	if s.fail {
		return fmt.Errorf("sink unavailable")
	}
	s.results++
	return nil
}

func (s *recordingSink) StorePerformanceMetrics(ctx context.Context, name string, metrics *PerformanceMetrics, meta map[string]any) error {
	if s.fail {
		return fmt.Errorf("sink unavailable")
	}
	s.metrics++
	return nil
}

func TestEnginePersistsBestEffort(t *testing.T) {
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	data := weekdayData("AAPL", start, []float64{100, 102})
	config := Config{
		Symbols:        []string{"AAPL"},
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 5),
		InitialCapital: 100000,
	}

	sink := &recordingSink{}
	engine := testEngine(data, sink)
	_, err := engine.Run(context.Background(), newScriptedStrategy(nil), config)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.results)
	assert.Equal(t, 1, sink.metrics)

	// A failing sink never fails the run
	engine = testEngine(data, &recordingSink{fail: true})
	_, err = engine.Run(context.Background(), newScriptedStrategy(nil), config)
	assert.NoError(t, err)
}
