package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qback/internal/logging"
)

// CachedProvider wraps a Provider with a Redis read-through cache.
// Cache failures fall back to the inner provider.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// CacheConfig represents the market data cache configuration
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// NewCachedProvider creates a caching wrapper around a data provider
func NewCachedProvider(inner Provider, cfg *CacheConfig, logger *logging.Logger) (*CachedProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &CachedProvider{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.WithField("component", "data_cache"),
	}, nil
}

// LoadHistoricalData serves from cache when possible
func (p *CachedProvider) LoadHistoricalData(ctx context.Context, symbols []string, r DateRange) (map[string][]Data, error) {
	key := cacheKey(symbols, r)

	if raw, err := p.client.Get(ctx, key).Bytes(); err == nil {
		var data map[string][]Data
		if err := json.Unmarshal(raw, &data); err == nil {
			p.logger.WithField("key", key).Debug("cache hit")
			return data, nil
		}
		p.logger.WithField("key", key).Warn("dropping corrupt cache entry")
		p.client.Del(ctx, key)
	} else if err != redis.Nil {
		p.logger.WithError(err).Warn("cache read failed")
	}

	data, err := p.inner.LoadHistoricalData(ctx, symbols, r)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(data); err == nil {
		if err := p.client.Set(ctx, key, raw, p.ttl).Err(); err != nil {
			p.logger.WithError(err).Warn("cache write failed")
		}
	}

	return data, nil
}

// ValidateHistoricalData delegates to the inner provider
func (p *CachedProvider) ValidateHistoricalData(data map[string][]Data) *ValidationReport {
	return p.inner.ValidateHistoricalData(data)
}

// Close releases the Redis connection
func (p *CachedProvider) Close() error {
	return p.client.Close()
}

func cacheKey(symbols []string, r DateRange) string {
	key := "histdata"
	for _, s := range symbols {
		key += ":" + s
	}
	return fmt.Sprintf("%s:%s:%s", key, r.Start.Format(DateKeyFormat), r.End.Format(DateKeyFormat))
}
