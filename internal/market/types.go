package market

import "time"

// DateKeyFormat is the calendar-date key used for daily cross-sections.
const DateKeyFormat = "2006-01-02"

// Data represents one daily OHLCV bar for a symbol
type Data struct {
	Symbol        string    `json:"symbol"`
	Date          time.Time `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	AverageVolume float64   `json:"average_volume,omitempty"`
}

// DateKey returns the calendar-date key for this bar
func (d Data) DateKey() string {
	return d.Date.Format(DateKeyFormat)
}

// Midpoint returns the midpoint of the day's range
func (d Data) Midpoint() float64 {
	return (d.High + d.Low) / 2
}

// DateRange represents an inclusive calendar date range
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// ValidationReport represents the outcome of a historical data check
type ValidationReport struct {
	IsValid     bool     `json:"is_valid"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}
