package market

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(symbol string, date time.Time, close, volume float64) Data {
	return Data{
		Symbol: symbol,
		Date:   date,
		Open:   close,
		High:   close * 1.01,
		Low:    close * 0.99,
		Close:  close,
		Volume: volume,
	}
}

func TestValidateData(t *testing.T) {
	report := ValidateData(nil)
	assert.False(t, report.IsValid)
	assert.NotEmpty(t, report.Suggestions)

	d1 := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	good := map[string][]Data{
		"2024-01-08": {bar("AAPL", d1, 150, 1000)},
		"2024-01-09": {bar("AAPL", d1.AddDate(0, 0, 1), 151, 1000)},
	}
	report = ValidateData(good)
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Issues)

	// A gap over a week is reported but stays valid
	gapped := map[string][]Data{
		"2024-01-08": {bar("AAPL", d1, 150, 1000)},
		"2024-01-22": {bar("AAPL", d1.AddDate(0, 0, 14), 151, 1000)},
	}
	report = ValidateData(gapped)
	assert.True(t, report.IsValid)
	assert.NotEmpty(t, report.Issues)

	negative := map[string][]Data{
		"2024-01-08": {bar("AAPL", d1, -5, 1000)},
	}
	assert.False(t, ValidateData(negative).IsValid)

	inverted := map[string][]Data{
		"2024-01-08": {{Symbol: "AAPL", Date: d1, Open: 150, High: 140, Low: 145, Close: 150, Volume: 1000}},
	}
	assert.False(t, ValidateData(inverted).IsValid)
}

func TestStaticProviderRange(t *testing.T) {
	d1 := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	data := make(map[string][]Data)
	for i := 0; i < 5; i++ {
		b := bar("AAPL", d1.AddDate(0, 0, i), 150, 1000)
		data[b.DateKey()] = []Data{b}
	}

	provider := NewStaticProvider(data)
	out, err := provider.LoadHistoricalData(context.Background(), []string{"AAPL"},
		DateRange{Start: d1.AddDate(0, 0, 1), End: d1.AddDate(0, 0, 3)})
	require.NoError(t, err)
	assert.Len(t, out, 3)

	// Unknown symbols yield nothing
	out, err = provider.LoadHistoricalData(context.Background(), []string{"MSFT"},
		DateRange{Start: d1, End: d1.AddDate(0, 0, 5)})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSortedDateKeys(t *testing.T) {
	data := map[string][]Data{
		"2024-01-10": nil,
		"2024-01-08": nil,
		"2024-01-09": nil,
	}
	assert.Equal(t, []string{"2024-01-08", "2024-01-09", "2024-01-10"}, SortedDateKeys(data))
}

func TestCSVProvider(t *testing.T) {
	dir := t.TempDir()
	csv := "date,open,high,low,close,volume\n" +
		"2024-01-09,101,102,100,101.5,200\n" + // out of order on purpose
		"2024-01-08,100,101,99,100.5,100\n" +
		"2024-01-10,102,103,101,102.5,300\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(csv), 0644))

	provider := NewCSVProvider(dir, nil)
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	data, err := provider.LoadHistoricalData(context.Background(), []string{"AAPL"},
		DateRange{Start: start, End: start.AddDate(0, 0, 5)})
	require.NoError(t, err)
	require.Len(t, data, 3)

	// Trailing average volume is computed over the sorted series
	assert.InDelta(t, 100.0, data["2024-01-08"][0].AverageVolume, 1e-9)
	assert.InDelta(t, 150.0, data["2024-01-09"][0].AverageVolume, 1e-9)
	assert.InDelta(t, 200.0, data["2024-01-10"][0].AverageVolume, 1e-9)
	assert.InDelta(t, 100.5, data["2024-01-08"][0].Close, 1e-9)
}

func TestCSVProviderMissingFile(t *testing.T) {
	provider := NewCSVProvider(t.TempDir(), nil)
	_, err := provider.LoadHistoricalData(context.Background(), []string{"NOPE"},
		DateRange{Start: time.Now().AddDate(0, -1, 0), End: time.Now()})
	assert.Error(t, err)
}

func TestCSVProviderMalformedRow(t *testing.T) {
	dir := t.TempDir()
	csv := "date,open,high,low,close,volume\n2024-01-08,abc,101,99,100.5,100\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(csv), 0644))

	provider := NewCSVProvider(dir, nil)
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	_, err := provider.LoadHistoricalData(context.Background(), []string{"AAPL"},
		DateRange{Start: start, End: start.AddDate(0, 0, 1)})
	assert.Error(t, err)
}

func TestDateRangeContains(t *testing.T) {
	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	r := DateRange{Start: start, End: start.AddDate(0, 0, 2)}

	assert.True(t, r.Contains(start))
	assert.True(t, r.Contains(start.AddDate(0, 0, 2)))
	assert.False(t, r.Contains(start.AddDate(0, 0, 3)))
	assert.False(t, r.Contains(start.AddDate(0, 0, -1)))
}
