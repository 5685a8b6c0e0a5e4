package optimizer

import (
	"context"
	"fmt"
	"time"

	"qback/internal/backtest"
	"qback/internal/logging"
	"qback/internal/market"
	"qback/internal/strategy"
)

// ObjectiveMetric selects the score used to rank parameter sets
type ObjectiveMetric string

const (
	MetricSharpe  ObjectiveMetric = "sharpe"
	MetricReturn  ObjectiveMetric = "return"
	MetricCalmar  ObjectiveMetric = "calmar"
	MetricSortino ObjectiveMetric = "sortino"
)

// Config represents walk-forward analysis configuration. Periods are
// counted in trading days (data points).
type Config struct {
	Symbols              []string
	Data                 map[string][]market.Data
	InSamplePeriod       int
	OutOfSamplePeriod    int
	StepSize             int
	Ranges               map[string]ParameterRange
	Metric               ObjectiveMetric
	InitialCapital       float64
	PositionSizeFraction float64
	MaxCombinations      int
	Thresholds           Thresholds
}

// Period represents one walk-forward window: in-sample optimization
// followed by out-of-sample validation with the winning parameters.
type Period struct {
	Index            int                          `json:"index"`
	InSampleStart    time.Time                    `json:"in_sample_start"`
	InSampleEnd      time.Time                    `json:"in_sample_end"`
	OutOfSampleStart time.Time                    `json:"out_of_sample_start"`
	OutOfSampleEnd   time.Time                    `json:"out_of_sample_end"`
	Parameters       map[string]float64           `json:"parameters"`
	InSample         *backtest.PerformanceMetrics `json:"in_sample"`
	OutOfSample      *backtest.PerformanceMetrics `json:"out_of_sample"`
}

// Result represents the full walk-forward outcome
type Result struct {
	Periods     []Period             `json:"periods"`
	Overfitting *OverfittingAnalysis `json:"overfitting"`
	Stability   *StabilityReport     `json:"stability"`
}

// Analyzer performs unbiased parameter optimization over rolling
// in-sample/out-of-sample windows. The in-sample winner is applied
// unmodified out-of-sample, and those scores feed all bias analysis.
type Analyzer struct {
	calculator *backtest.Calculator
	simConfig  *backtest.SimulatorConfig
	logger     *logging.Logger
}

// NewAnalyzer creates a walk-forward analyzer
func NewAnalyzer(calculator *backtest.Calculator, simConfig *backtest.SimulatorConfig, logger *logging.Logger) *Analyzer {
	if simConfig == nil {
		simConfig = backtest.DefaultSimulatorConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Analyzer{
		calculator: calculator,
		simConfig:  simConfig,
		logger:     logger.WithField("component", "walkforward"),
	}
}

// Run executes the walk-forward analysis. A period that fails is
// logged and skipped; the run is fatal only when no period succeeds.
func (a *Analyzer) Run(ctx context.Context, strat strategy.Strategy, config Config) (*Result, error) {
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	dates := market.SortedDateKeys(config.Data)
	window := config.InSamplePeriod + config.OutOfSamplePeriod
	if len(dates) < window {
		return nil, fmt.Errorf("insufficient data: %d points, need at least %d", len(dates), window)
	}

	var periods []Period
	index := 0
	for start := 0; start+window <= len(dates); start += config.StepSize {
		isDates := dates[start : start+config.InSamplePeriod]
		oosDates := dates[start+config.InSamplePeriod : start+window]

		period, err := a.runPeriod(ctx, strat, config, index, isDates, oosDates)
		if err != nil {
			a.logger.WithField("period", index).WithError(err).Warn("skipping failed walk-forward period")
			index++
			continue
		}
		periods = append(periods, *period)
		index++
	}

	if len(periods) == 0 {
		return nil, fmt.Errorf("walk-forward failed: no period succeeded")
	}

	paramsPerPeriod := make([]map[string]float64, len(periods))
	for i, p := range periods {
		paramsPerPeriod[i] = p.Parameters
	}

	result := &Result{
		Periods:     periods,
		Overfitting: DetectOverfitting(periods, config.Thresholds),
		Stability:   AnalyzeParameterStability(paramsPerPeriod, config.Ranges),
	}

	a.logger.WithFields(map[string]interface{}{
		"periods":       len(periods),
		"is_overfitted": result.Overfitting.IsOverfitted,
		"stability":     result.Stability.StabilityScore,
	}).Info("walk-forward analysis completed")

	return result, nil
}

// runPeriod optimizes one window in-sample and validates the winner
// out-of-sample.
func (a *Analyzer) runPeriod(ctx context.Context, strat strategy.Strategy, config Config, index int, isDates, oosDates []string) (*Period, error) {
	bestParams, inSample, err := a.optimizeParameters(ctx, strat, config, isDates)
	if err != nil {
		return nil, fmt.Errorf("in-sample optimization failed: %w", err)
	}

	outOfSample, err := a.testParameters(ctx, strat, config, bestParams, oosDates)
	if err != nil {
		return nil, fmt.Errorf("out-of-sample test failed: %w", err)
	}

	return &Period{
		Index:            index,
		InSampleStart:    mustParseDate(isDates[0]),
		InSampleEnd:      mustParseDate(isDates[len(isDates)-1]),
		OutOfSampleStart: mustParseDate(oosDates[0]),
		OutOfSampleEnd:   mustParseDate(oosDates[len(oosDates)-1]),
		Parameters:       bestParams,
		InSample:         inSample,
		OutOfSample:      outOfSample,
	}, nil
}

// optimizeParameters grid searches the in-sample slice. The strategy's
// original configuration is restored after every combination, also on
// failure. A failing combination is excluded, never fatal.
func (a *Analyzer) optimizeParameters(ctx context.Context, strat strategy.Strategy, config Config, isDates []string) (map[string]float64, *backtest.PerformanceMetrics, error) {
	it := newGridIterator(config.Ranges)
	if config.MaxCombinations > 0 && it.Count() > config.MaxCombinations {
		a.logger.Warnf("grid of %d combinations exceeds ceiling %d, truncating", it.Count(), config.MaxCombinations)
	}

	var bestParams map[string]float64
	var bestMetrics *backtest.PerformanceMetrics
	bestScore := 0.0
	evaluated := 0

	for {
		params, ok := it.Next()
		if !ok {
			break
		}
		if config.MaxCombinations > 0 && evaluated >= config.MaxCombinations {
			break
		}
		evaluated++

		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		metrics, err := a.evaluate(ctx, strat, config, params, isDates)
		if err != nil {
			a.logger.WithError(err).Debugf("excluding combination %v", params)
			continue
		}

		score := a.score(metrics, config.Metric)
		if bestParams == nil || score > bestScore {
			bestParams = params
			bestMetrics = metrics
			bestScore = score
		}
	}

	if bestParams == nil {
		return nil, nil, fmt.Errorf("no parameter combination succeeded (%d evaluated)", evaluated)
	}
	return bestParams, bestMetrics, nil
}

// testParameters applies an optimized parameter set unmodified to the
// out-of-sample slice.
func (a *Analyzer) testParameters(ctx context.Context, strat strategy.Strategy, config Config, params map[string]float64, oosDates []string) (*backtest.PerformanceMetrics, error) {
	return a.evaluate(ctx, strat, config, params, oosDates)
}

// evaluate runs one backtest over a date slice with the given
// parameters applied under a scoped mutate-then-restore.
func (a *Analyzer) evaluate(ctx context.Context, strat strategy.Strategy, config Config, params map[string]float64, dates []string) (*backtest.PerformanceMetrics, error) {
	cfg := strat.Config()
	saved := cfg.Clone()
	defer func() { *cfg = *saved }()
	strat.UpdateConfig(params)

	slice := make(map[string][]market.Data, len(dates))
	for _, key := range dates {
		slice[key] = config.Data[key]
	}

	engine := backtest.NewEngine(
		market.NewStaticProvider(slice),
		backtest.NewSimulator(a.simConfig, a.logger),
		a.calculator,
		nil,
		a.logger,
	)

	result, err := engine.Run(ctx, strat, backtest.Config{
		Symbols:              config.Symbols,
		StartDate:            mustParseDate(dates[0]),
		EndDate:              mustParseDate(dates[len(dates)-1]),
		InitialCapital:       config.InitialCapital,
		PositionSizeFraction: config.PositionSizeFraction,
	})
	if err != nil {
		return nil, err
	}
	return result.Performance, nil
}

// score extracts the configured objective from a metrics set
func (a *Analyzer) score(metrics *backtest.PerformanceMetrics, metric ObjectiveMetric) float64 {
	switch metric {
	case MetricReturn:
		return metrics.Returns.AnnualizedReturn
	case MetricCalmar:
		return metrics.Risk.CalmarRatio
	case MetricSortino:
		return metrics.Risk.SortinoRatio
	default:
		return metrics.Risk.SharpeRatio
	}
}

func validateConfig(config *Config) error {
	if config.InSamplePeriod <= 0 {
		return fmt.Errorf("in-sample period must be positive")
	}
	if config.OutOfSamplePeriod <= 0 {
		return fmt.Errorf("out-of-sample period must be positive")
	}
	if config.StepSize <= 0 {
		return fmt.Errorf("step size must be positive")
	}
	if len(config.Ranges) == 0 {
		return fmt.Errorf("at least one parameter range is required")
	}
	if len(config.Data) == 0 {
		return fmt.Errorf("data series is empty")
	}
	if config.InitialCapital <= 0 {
		config.InitialCapital = 100000
	}
	if config.Thresholds == (Thresholds{}) {
		config.Thresholds = DefaultThresholds()
	}
	return nil
}

func mustParseDate(key string) time.Time {
	t, _ := time.Parse(market.DateKeyFormat, key)
	return t
}
