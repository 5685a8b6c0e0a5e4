package optimizer

import (
	"math"
)

// Trend classifies how a parameter's optimum drifts across periods
type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
	TrendStable     Trend = "STABLE"
)

// stableCVThreshold is the coefficient-of-variation bound below which
// a parameter counts as stable.
const stableCVThreshold = 0.3

// ParameterStability describes one parameter's behavior across
// walk-forward periods.
type ParameterStability struct {
	Parameter              string  `json:"parameter"`
	Mean                   float64 `json:"mean"`
	StdDev                 float64 `json:"std_dev"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation"`
	IsStable               bool    `json:"is_stable"`
	Trend                  Trend   `json:"trend"`
}

// StabilityReport aggregates per-parameter stability into a [0,1]
// score.
type StabilityReport struct {
	Parameters     map[string]ParameterStability `json:"parameters"`
	StabilityScore float64                       `json:"stability_score"`
}

// AnalyzeParameterStability measures how much each parameter's
// per-period optimum moves. A parameter is stable when its coefficient
// of variation stays under 0.3; a trend is flagged when the second
// half's mean departs from the first half's by more than 20%.
func AnalyzeParameterStability(paramsPerPeriod []map[string]float64, ranges map[string]ParameterRange) *StabilityReport {
	report := &StabilityReport{Parameters: make(map[string]ParameterStability, len(ranges))}
	if len(paramsPerPeriod) == 0 {
		return report
	}

	scoreSum := 0.0
	counted := 0
	for name := range ranges {
		values := make([]float64, 0, len(paramsPerPeriod))
		for _, params := range paramsPerPeriod {
			if v, ok := params[name]; ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}

		stability := ParameterStability{
			Parameter: name,
			Mean:      mean(values),
			StdDev:    stdev(values),
			Trend:     classifyTrend(values),
		}
		stability.CoefficientOfVariation = coefficientOfVariation(stability.Mean, stability.StdDev)
		stability.IsStable = stability.CoefficientOfVariation < stableCVThreshold

		report.Parameters[name] = stability
		scoreSum += math.Max(0, 1-stability.CoefficientOfVariation)
		counted++
	}

	if counted > 0 {
		report.StabilityScore = scoreSum / float64(counted)
	}
	return report
}

func coefficientOfVariation(m, sd float64) float64 {
	if math.Abs(m) < 1e-12 {
		if sd < 1e-12 {
			return 0
		}
		return math.Inf(1)
	}
	return sd / math.Abs(m)
}

// classifyTrend compares the first-half and second-half means
func classifyTrend(values []float64) Trend {
	if len(values) < 2 {
		return TrendStable
	}
	half := len(values) / 2
	first := mean(values[:half])
	second := mean(values[half:])

	if math.Abs(first) < 1e-12 {
		if math.Abs(second) < 1e-12 {
			return TrendStable
		}
		if second > 0 {
			return TrendIncreasing
		}
		return TrendDecreasing
	}

	relative := (second - first) / math.Abs(first)
	if relative > 0.2 {
		return TrendIncreasing
	}
	if relative < -0.2 {
		return TrendDecreasing
	}
	return TrendStable
}
