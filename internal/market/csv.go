package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"qback/internal/logging"
)

// averageVolumeWindow is the trailing window used for average daily volume.
const averageVolumeWindow = 20

// CSVProvider loads daily bars from per-symbol CSV files.
// Each file is named <symbol>.csv with a header row and columns
// date,open,high,low,close,volume.
type CSVProvider struct {
	dataDir string
	logger  *logging.Logger
}

// NewCSVProvider creates a CSV-backed data provider
func NewCSVProvider(dataDir string, logger *logging.Logger) *CSVProvider {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CSVProvider{
		dataDir: dataDir,
		logger:  logger.WithField("component", "csv_provider"),
	}
}

// LoadHistoricalData loads the requested symbols and groups bars by date
func (p *CSVProvider) LoadHistoricalData(ctx context.Context, symbols []string, r DateRange) (map[string][]Data, error) {
	out := make(map[string][]Data)

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bars, err := p.loadSymbol(symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", symbol, err)
		}

		fillAverageVolume(bars)
		for _, bar := range bars {
			if r.Contains(bar.Date) {
				key := bar.DateKey()
				out[key] = append(out[key], bar)
			}
		}
		p.logger.WithField("symbol", symbol).Debugf("loaded %d bars", len(bars))
	}

	return out, nil
}

// ValidateHistoricalData checks the loaded data set
func (p *CSVProvider) ValidateHistoricalData(data map[string][]Data) *ValidationReport {
	return ValidateData(data)
}

func (p *CSVProvider) loadSymbol(symbol string) ([]Data, error) {
	path := filepath.Join(p.dataDir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no rows in %s", path)
	}

	bars := make([]Data, 0, len(records)-1)
	for i, rec := range records[1:] { // skip header
		if len(rec) < 6 {
			return nil, fmt.Errorf("row %d: expected 6 columns, got %d", i+2, len(rec))
		}
		date, err := time.Parse(DateKeyFormat, rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid date %q: %w", i+2, rec[0], err)
		}
		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i+2, j+2, err)
			}
			vals[j] = v
		}
		bars = append(bars, Data{
			Symbol: symbol,
			Date:   date,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// fillAverageVolume computes a trailing average daily volume per bar
func fillAverageVolume(bars []Data) {
	sum := 0.0
	for i := range bars {
		sum += bars[i].Volume
		n := i + 1
		if n > averageVolumeWindow {
			sum -= bars[i-averageVolumeWindow].Volume
			n = averageVolumeWindow
		}
		bars[i].AverageVolume = sum / float64(n)
	}
}
