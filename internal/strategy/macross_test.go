package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qback/internal/market"
)

func feedCloses(t *testing.T, s *MACrossStrategy, closes []float64) []Signal {
	t.Helper()
	var all []Signal
	date := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	for i, close := range closes {
		signals, err := s.Analyze(context.Background(), []market.Data{{
			Symbol: "AAPL",
			Date:   date.AddDate(0, 0, i),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: 1000,
		}})
		require.NoError(t, err)
		all = append(all, signals...)
	}
	return all
}

func fastSlowStrategy() *MACrossStrategy {
	return NewMACrossStrategy(&Config{
		MaxPositionSize: 0.1,
		LookbackPeriod:  10,
		Parameters:      map[string]float64{"fast_period": 2, "slow_period": 3},
	})
}

func TestMACrossBuySignal(t *testing.T) {
	signals := feedCloses(t, fastSlowStrategy(), []float64{10, 10, 10, 10, 20})

	require.Len(t, signals, 1)
	assert.Equal(t, ActionBuy, signals[0].Action)
	assert.Equal(t, "AAPL", signals[0].Symbol)
	assert.InDelta(t, 20.0, signals[0].Price, 1e-9)
	assert.Greater(t, signals[0].Confidence, 0.0)
}

func TestMACrossSellAfterBuy(t *testing.T) {
	signals := feedCloses(t, fastSlowStrategy(), []float64{10, 10, 10, 10, 20, 5, 5})

	require.Len(t, signals, 2)
	assert.Equal(t, ActionBuy, signals[0].Action)
	assert.Equal(t, ActionSell, signals[1].Action)
}

func TestMACrossReset(t *testing.T) {
	s := fastSlowStrategy()
	feedCloses(t, s, []float64{10, 10, 10, 10})
	s.Reset()

	// After a reset the warmup starts over, so no signal yet
	signals := feedCloses(t, s, []float64{20})
	assert.Empty(t, signals)
}

func TestMACrossValidate(t *testing.T) {
	assert.True(t, fastSlowStrategy().Validate())

	bad := NewMACrossStrategy(&Config{
		MaxPositionSize: 0.1,
		LookbackPeriod:  10,
		Parameters:      map[string]float64{"fast_period": 30, "slow_period": 10},
	})
	assert.False(t, bad.Validate(), "fast period must stay below slow period")
}

func TestUpdateConfigMerges(t *testing.T) {
	s := fastSlowStrategy()
	s.UpdateConfig(map[string]float64{"fast_period": 4})

	assert.InDelta(t, 4.0, s.Config().Parameters["fast_period"], 1e-9)
	assert.InDelta(t, 3.0, s.Config().Parameters["slow_period"], 1e-9, "unmentioned parameters survive")
}

func TestConfigClone(t *testing.T) {
	original := &Config{
		MaxPositionSize: 0.2,
		Parameters:      map[string]float64{"fast_period": 10},
	}
	clone := original.Clone()
	clone.Parameters["fast_period"] = 99

	assert.InDelta(t, 10.0, original.Parameters["fast_period"], 1e-9, "clone is deep")
}
