package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"qback/internal/backtest"
	"qback/internal/logging"
)

// Config represents results database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxOpen  int
	MaxIdle  int
	Timeout  time.Duration
}

// DSN builds the Postgres connection string
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewConnection opens the results database with pooling configured
func NewConnection(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 10
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// PostgresSink persists backtest results and performance metrics as
// JSONB rows. It implements backtest.ResultsSink.
type PostgresSink struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresSink creates a Postgres-backed results sink
func NewPostgresSink(db *sql.DB, logger *logging.Logger) *PostgresSink {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &PostgresSink{
		db:     db,
		logger: logger.WithField("component", "results_sink"),
	}
}

// StoreBacktestResult stores one backtest outcome
func (s *PostgresSink) StoreBacktestResult(ctx context.Context, result *backtest.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	performance, err := json.Marshal(result.Performance)
	if err != nil {
		return fmt.Errorf("failed to marshal performance: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_results (strategy, start_date, end_date, performance, result, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		result.Strategy, result.StartDate, result.EndDate, performance, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backtest result: %w", err)
	}

	s.logger.WithField("strategy", result.Strategy).Debug("stored backtest result")
	return nil
}

// StorePerformanceMetrics stores a named metrics snapshot
func (s *PostgresSink) StorePerformanceMetrics(ctx context.Context, name string, metrics *backtest.PerformanceMetrics, meta map[string]any) error {
	payload, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO performance_metrics (name, metrics, metadata, created_at)
		VALUES ($1, $2, $3, NOW())`,
		name, payload, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert performance metrics: %w", err)
	}
	return nil
}
