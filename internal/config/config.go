package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"qback/internal/logging"
)

// Config represents the application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Logging     logging.Config    `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Provider    ProviderConfig    `yaml:"provider"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	WalkForward WalkForwardConfig `yaml:"walk_forward"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// DatabaseConfig represents the results database configuration
type DatabaseConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	DBName         string        `yaml:"dbname"`
	SSLMode        string        `yaml:"sslmode"`
	MaxOpen        int           `yaml:"max_open"`
	MaxIdle        int           `yaml:"max_idle"`
	Timeout        time.Duration `yaml:"timeout"`
	MigrationsPath string        `yaml:"migrations_path"`
}

// RedisConfig represents the market data cache configuration
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`
}

// ProviderConfig represents the historical data provider configuration
type ProviderConfig struct {
	Type           string        `yaml:"type"` // "csv" or "http"
	DataDir        string        `yaml:"data_dir"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestsPerSec int           `yaml:"requests_per_sec"`
	MaxRetries     int           `yaml:"max_retries"`
}

// BacktestConfig represents backtest run configuration
type BacktestConfig struct {
	Strategy             string             `yaml:"strategy"`
	Symbols              []string           `yaml:"symbols"`
	StartDate            string             `yaml:"start_date"` // 2006-01-02
	EndDate              string             `yaml:"end_date"`
	InitialCapital       float64            `yaml:"initial_capital"`
	PositionSizeFraction float64            `yaml:"position_size_fraction"`
	RiskFreeRate         float64            `yaml:"risk_free_rate"`
	CommissionRate       float64            `yaml:"commission_rate"`
	MinCommission        float64            `yaml:"min_commission"`
	EnforceMarketHours   bool               `yaml:"enforce_market_hours"`
	Parameters           map[string]float64 `yaml:"parameters"`
}

// WalkForwardConfig represents walk-forward analysis configuration
type WalkForwardConfig struct {
	InSamplePeriod    int              `yaml:"in_sample_period"`
	OutOfSamplePeriod int              `yaml:"out_of_sample_period"`
	StepSize          int              `yaml:"step_size"`
	Metric            string           `yaml:"metric"` // sharpe, return, calmar, sortino
	MaxCombinations   int              `yaml:"max_combinations"`
	Ranges            map[string]Range `yaml:"ranges"`
	Thresholds        Thresholds       `yaml:"thresholds"`
}

// Range represents an inclusive parameter search range
type Range struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// Thresholds represents overfitting detection thresholds
type Thresholds struct {
	Score             float64 `yaml:"score"`
	ReturnDegradation float64 `yaml:"return_degradation"`
	SharpeDegradation float64 `yaml:"sharpe_degradation"`
}

// ScheduleConfig represents the periodic re-backtesting configuration
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = 100000
	}
	if c.Backtest.PositionSizeFraction == 0 {
		c.Backtest.PositionSizeFraction = 0.1
	}
	if c.Backtest.RiskFreeRate == 0 {
		c.Backtest.RiskFreeRate = 0.02
	}
	if c.WalkForward.Metric == "" {
		c.WalkForward.Metric = "sharpe"
	}
	if c.WalkForward.Thresholds.Score == 0 {
		c.WalkForward.Thresholds.Score = 0.3
	}
	if c.WalkForward.Thresholds.ReturnDegradation == 0 {
		c.WalkForward.Thresholds.ReturnDegradation = 0.1
	}
	if c.WalkForward.Thresholds.SharpeDegradation == 0 {
		c.WalkForward.Thresholds.SharpeDegradation = 0.5
	}
	if c.Provider.Type == "" {
		c.Provider.Type = "csv"
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if len(c.Backtest.Symbols) == 0 {
		return fmt.Errorf("backtest: at least one symbol is required")
	}
	if _, err := c.Backtest.Start(); err != nil {
		return fmt.Errorf("backtest: invalid start_date: %w", err)
	}
	if _, err := c.Backtest.End(); err != nil {
		return fmt.Errorf("backtest: invalid end_date: %w", err)
	}
	if c.Backtest.PositionSizeFraction < 0 || c.Backtest.PositionSizeFraction > 1 {
		return fmt.Errorf("backtest: position_size_fraction must be in (0,1]")
	}
	switch c.Provider.Type {
	case "csv", "http":
	default:
		return fmt.Errorf("provider: unknown type %q", c.Provider.Type)
	}
	return nil
}

// Start parses the configured start date
func (c *BacktestConfig) Start() (time.Time, error) {
	return time.Parse("2006-01-02", c.StartDate)
}

// End parses the configured end date
func (c *BacktestConfig) End() (time.Time, error) {
	return time.Parse("2006-01-02", c.EndDate)
}
