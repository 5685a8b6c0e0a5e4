package market

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Provider loads historical market data keyed by calendar date.
// The returned map holds the cross-section of all requested symbols
// for each trading day.
type Provider interface {
	LoadHistoricalData(ctx context.Context, symbols []string, r DateRange) (map[string][]Data, error)
	ValidateHistoricalData(data map[string][]Data) *ValidationReport
}

// StaticProvider serves a pre-loaded data set. It backs walk-forward
// window slicing and tests.
type StaticProvider struct {
	data map[string][]Data
}

// NewStaticProvider creates a provider over an in-memory data set
func NewStaticProvider(data map[string][]Data) *StaticProvider {
	return &StaticProvider{data: data}
}

// LoadHistoricalData returns the subset of the data set inside the range
func (p *StaticProvider) LoadHistoricalData(ctx context.Context, symbols []string, r DateRange) (map[string][]Data, error) {
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	out := make(map[string][]Data)
	for key, bars := range p.data {
		date, err := time.Parse(DateKeyFormat, key)
		if err != nil {
			return nil, fmt.Errorf("invalid date key %q: %w", key, err)
		}
		if !r.Contains(date) {
			continue
		}
		for _, bar := range bars {
			if wanted[bar.Symbol] {
				out[key] = append(out[key], bar)
			}
		}
	}
	return out, nil
}

// ValidateHistoricalData checks the data set for structural problems
func (p *StaticProvider) ValidateHistoricalData(data map[string][]Data) *ValidationReport {
	return ValidateData(data)
}

// SortedDateKeys returns the data set's date keys in ascending order
func SortedDateKeys(data map[string][]Data) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ValidateData checks a date-keyed data set for structural problems
func ValidateData(data map[string][]Data) *ValidationReport {
	report := &ValidationReport{IsValid: true}

	if len(data) == 0 {
		report.IsValid = false
		report.Issues = append(report.Issues, "data set is empty")
		report.Suggestions = append(report.Suggestions, "check the requested symbols and date range")
		return report
	}

	keys := SortedDateKeys(data)
	var prev time.Time
	for i, key := range keys {
		date, err := time.Parse(DateKeyFormat, key)
		if err != nil {
			report.IsValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("invalid date key %q", key))
			continue
		}
		if i > 0 && date.Sub(prev) > 7*24*time.Hour {
			report.Issues = append(report.Issues, fmt.Sprintf("gap of %d days before %s", int(date.Sub(prev).Hours()/24), key))
			report.Suggestions = append(report.Suggestions, "verify the data source covers the full range")
		}
		prev = date

		for _, bar := range data[key] {
			if bar.Close <= 0 || bar.Open <= 0 {
				report.IsValid = false
				report.Issues = append(report.Issues, fmt.Sprintf("%s %s: non-positive price", bar.Symbol, key))
			}
			if bar.High < bar.Low {
				report.IsValid = false
				report.Issues = append(report.Issues, fmt.Sprintf("%s %s: high below low", bar.Symbol, key))
			}
			if bar.Volume < 0 {
				report.IsValid = false
				report.Issues = append(report.Issues, fmt.Sprintf("%s %s: negative volume", bar.Symbol, key))
			}
		}
	}

	return report
}
