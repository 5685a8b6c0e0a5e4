package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"qback/internal/logging"
)

// HTTPProvider fetches daily bars from a REST market data API.
// Requests are rate limited client side and retried with exponential
// backoff on transient failures.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	logger     *logging.Logger
}

// HTTPProviderOptions holds options for creating an HTTP provider
type HTTPProviderOptions struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	RequestsPerSec int
	MaxRetries     int
}

// NewHTTPProvider creates a new REST data provider
func NewHTTPProvider(options HTTPProviderOptions, logger *logging.Logger) *HTTPProvider {
	if options.RequestTimeout == 0 {
		options.RequestTimeout = 30 * time.Second
	}
	if options.RequestsPerSec == 0 {
		options.RequestsPerSec = 5
	}
	if options.MaxRetries == 0 {
		options.MaxRetries = 3
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &HTTPProvider{
		baseURL:    options.BaseURL,
		apiKey:     options.APIKey,
		httpClient: &http.Client{Timeout: options.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(options.RequestsPerSec), options.RequestsPerSec),
		maxRetries: uint64(options.MaxRetries),
		logger:     logger.WithField("component", "http_provider"),
	}
}

// barResponse mirrors the provider's daily time series payload
type barResponse struct {
	Status string `json:"status,omitempty"`
	Values []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"values"`
}

// LoadHistoricalData fetches the requested symbols and groups bars by date
func (p *HTTPProvider) LoadHistoricalData(ctx context.Context, symbols []string, r DateRange) (map[string][]Data, error) {
	out := make(map[string][]Data)

	for _, symbol := range symbols {
		bars, err := p.fetchSymbol(ctx, symbol, r)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", symbol, err)
		}
		fillAverageVolume(bars)
		for _, bar := range bars {
			if r.Contains(bar.Date) {
				out[bar.DateKey()] = append(out[bar.DateKey()], bar)
			}
		}
	}

	return out, nil
}

// ValidateHistoricalData checks the fetched data set
func (p *HTTPProvider) ValidateHistoricalData(data map[string][]Data) *ValidationReport {
	return ValidateData(data)
}

func (p *HTTPProvider) fetchSymbol(ctx context.Context, symbol string, r DateRange) ([]Data, error) {
	endpoint := fmt.Sprintf("%s/daily?symbol=%s&start=%s&end=%s&apikey=%s",
		p.baseURL,
		url.QueryEscape(symbol),
		r.Start.Format(DateKeyFormat),
		r.End.Format(DateKeyFormat),
		p.apiKey,
	)

	var body []byte
	operation := func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("server returned %d", resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.maxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		p.logger.WithField("symbol", symbol).Warnf("request failed, retrying in %v: %v", wait, err)
	}); err != nil {
		return nil, err
	}

	var data barResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if data.Status == "error" {
		return nil, fmt.Errorf("provider error: %s", string(body))
	}
	if len(data.Values) == 0 {
		return nil, fmt.Errorf("empty data returned for %s", symbol)
	}

	bars := make([]Data, 0, len(data.Values))
	for _, v := range data.Values {
		date, err := time.Parse(DateKeyFormat, v.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", v.Date, err)
		}
		bars = append(bars, Data{
			Symbol: symbol,
			Date:   date,
			Open:   v.Open,
			High:   v.High,
			Low:    v.Low,
			Close:  v.Close,
			Volume: v.Volume,
		})
	}

	// Oldest first for downstream calculations
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	p.logger.WithField("symbol", symbol).Debugf("fetched %d bars", len(bars))
	return bars, nil
}
