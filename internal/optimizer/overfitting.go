package optimizer

import (
	"math"
)

// Thresholds represents the overfitting policy knobs. The defaults are
// conventions, not calibrated truths, so they stay configurable.
type Thresholds struct {
	Score             float64 `yaml:"score"`
	ReturnDegradation float64 `yaml:"return_degradation"`
	SharpeDegradation float64 `yaml:"sharpe_degradation"`
}

// DefaultThresholds returns the default overfitting thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Score:             0.3,
		ReturnDegradation: 0.1,
		SharpeDegradation: 0.5,
	}
}

// OverfittingAnalysis quantifies in-sample to out-of-sample
// performance degradation across walk-forward periods.
type OverfittingAnalysis struct {
	ReturnDegradation   float64  `json:"return_degradation"`
	SharpeDegradation   float64  `json:"sharpe_degradation"`
	WinRateDegradation  float64  `json:"win_rate_degradation"`
	ReturnConsistency   float64  `json:"return_consistency"`
	SharpeConsistency   float64  `json:"sharpe_consistency"`
	DrawdownConsistency float64  `json:"drawdown_consistency"`
	OverfittingScore    float64  `json:"overfitting_score"`
	IsOverfitted        bool     `json:"is_overfitted"`
	Recommendations     []string `json:"recommendations,omitempty"`
}

// DetectOverfitting compares mean in-sample and out-of-sample
// performance and measures out-of-sample consistency. The combined
// score lies in [0,1].
func DetectOverfitting(periods []Period, thresholds Thresholds) *OverfittingAnalysis {
	analysis := &OverfittingAnalysis{}
	if len(periods) == 0 {
		return analysis
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}

	isReturns := make([]float64, len(periods))
	oosReturns := make([]float64, len(periods))
	isSharpes := make([]float64, len(periods))
	oosSharpes := make([]float64, len(periods))
	isWinRates := make([]float64, len(periods))
	oosWinRates := make([]float64, len(periods))
	oosDrawdowns := make([]float64, len(periods))

	for i, p := range periods {
		isReturns[i] = p.InSample.Returns.AnnualizedReturn
		oosReturns[i] = p.OutOfSample.Returns.AnnualizedReturn
		isSharpes[i] = p.InSample.Risk.SharpeRatio
		oosSharpes[i] = p.OutOfSample.Risk.SharpeRatio
		isWinRates[i] = p.InSample.Trades.WinRate
		oosWinRates[i] = p.OutOfSample.Trades.WinRate
		oosDrawdowns[i] = p.OutOfSample.Risk.MaxDrawdown
	}

	analysis.ReturnDegradation = mean(isReturns) - mean(oosReturns)
	analysis.SharpeDegradation = mean(isSharpes) - mean(oosSharpes)
	analysis.WinRateDegradation = mean(isWinRates) - mean(oosWinRates)
	analysis.ReturnConsistency = stdev(oosReturns)
	analysis.SharpeConsistency = stdev(oosSharpes)
	analysis.DrawdownConsistency = stdev(oosDrawdowns)

	degradation := 0.35*clamp01(analysis.ReturnDegradation/(2*thresholds.ReturnDegradation)) +
		0.35*clamp01(analysis.SharpeDegradation/(2*thresholds.SharpeDegradation)) +
		0.1*clamp01(analysis.WinRateDegradation/0.2)
	consistency := clamp01((analysis.ReturnConsistency*2 + analysis.SharpeConsistency/2 + analysis.DrawdownConsistency*2) / 3)
	analysis.OverfittingScore = clamp01(degradation + 0.2*consistency)

	analysis.IsOverfitted = analysis.OverfittingScore > thresholds.Score ||
		analysis.ReturnDegradation > thresholds.ReturnDegradation ||
		analysis.SharpeDegradation > thresholds.SharpeDegradation

	analysis.Recommendations = recommendations(analysis, thresholds)
	return analysis
}

func recommendations(a *OverfittingAnalysis, t Thresholds) []string {
	var recs []string
	if a.ReturnDegradation > t.ReturnDegradation {
		recs = append(recs, "out-of-sample returns degrade materially; reduce the parameter search space or lengthen the in-sample window")
	}
	if a.SharpeDegradation > t.SharpeDegradation {
		recs = append(recs, "risk-adjusted performance does not hold out of sample; the strategy likely fits noise")
	}
	if a.ReturnConsistency > 0.5 {
		recs = append(recs, "out-of-sample results vary widely across periods; validate over more market regimes")
	}
	if a.IsOverfitted {
		recs = append(recs, "treat the in-sample results as optimistic; prefer the out-of-sample figures for expectations")
	} else if len(recs) == 0 {
		recs = append(recs, "no strong evidence of overfitting; out-of-sample performance tracks in-sample")
	}
	return recs
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// mean and stdev over walk-forward aggregates

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - m
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
