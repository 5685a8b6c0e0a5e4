package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"qback/internal/backtest"
	"qback/internal/config"
	"qback/internal/logging"
	"qback/internal/market"
	"qback/internal/optimizer"
	"qback/internal/scheduler"
	"qback/internal/storage"
	"qback/internal/strategy"
)

const usage = `Usage: qback [flags] <command>

Commands:
  backtest     run a single backtest over the configured period
  walkforward  run walk-forward analysis with parameter optimization
  migrate      apply results database migrations
  schedule     run periodic re-backtesting on the configured cron schedule

Flags:
`

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &application{config: cfg, logger: logger}

	switch command {
	case "backtest":
		err = app.runBacktest(ctx)
	case "walkforward":
		err = app.runWalkForward(ctx)
	case "migrate":
		err = app.runMigrate()
	case "schedule":
		err = app.runSchedule(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.WithError(err).Errorf("%s failed", command)
		os.Exit(1)
	}
}

// application wires configuration into runnable commands
type application struct {
	config *config.Config
	logger *logging.Logger
}

// buildProvider constructs the configured data provider, optionally
// wrapped with the Redis cache.
func (a *application) buildProvider() (market.Provider, func(), error) {
	var provider market.Provider
	switch a.config.Provider.Type {
	case "http":
		provider = market.NewHTTPProvider(market.HTTPProviderOptions{
			BaseURL:        a.config.Provider.BaseURL,
			APIKey:         a.config.Provider.APIKey,
			RequestTimeout: a.config.Provider.RequestTimeout,
			RequestsPerSec: a.config.Provider.RequestsPerSec,
			MaxRetries:     a.config.Provider.MaxRetries,
		}, a.logger)
	default:
		provider = market.NewCSVProvider(a.config.Provider.DataDir, a.logger)
	}

	cleanup := func() {}
	if a.config.Redis.Enabled {
		cached, err := market.NewCachedProvider(provider, &market.CacheConfig{
			Addr:     a.config.Redis.Addr,
			Password: a.config.Redis.Password,
			DB:       a.config.Redis.DB,
			PoolSize: a.config.Redis.PoolSize,
			TTL:      a.config.Redis.TTL,
		}, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up data cache: %w", err)
		}
		provider = cached
		cleanup = func() { cached.Close() }
	}

	return provider, cleanup, nil
}

// buildSink constructs the Postgres results sink when persistence is
// enabled. A nil sink disables persistence.
func (a *application) buildSink() (backtest.ResultsSink, func(), error) {
	if !a.config.Database.Enabled {
		return nil, func() {}, nil
	}
	db, err := storage.NewConnection(a.databaseConfig())
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgresSink(db, a.logger), func() { db.Close() }, nil
}

func (a *application) databaseConfig() *storage.Config {
	return &storage.Config{
		Host:     a.config.Database.Host,
		Port:     a.config.Database.Port,
		User:     a.config.Database.User,
		Password: a.config.Database.Password,
		DBName:   a.config.Database.DBName,
		SSLMode:  a.config.Database.SSLMode,
		MaxOpen:  a.config.Database.MaxOpen,
		MaxIdle:  a.config.Database.MaxIdle,
		Timeout:  a.config.Database.Timeout,
	}
}

func (a *application) buildStrategy() (strategy.Strategy, error) {
	switch a.config.Backtest.Strategy {
	case "", "ma_cross":
		strat := strategy.NewMACrossStrategy(nil)
		if len(a.config.Backtest.Parameters) > 0 {
			strat.UpdateConfig(a.config.Backtest.Parameters)
		}
		return strat, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", a.config.Backtest.Strategy)
	}
}

func (a *application) simulatorConfig() *backtest.SimulatorConfig {
	simConfig := backtest.DefaultSimulatorConfig()
	if a.config.Backtest.CommissionRate > 0 {
		simConfig.CommissionRate = a.config.Backtest.CommissionRate
	}
	if a.config.Backtest.MinCommission > 0 {
		simConfig.MinCommission = a.config.Backtest.MinCommission
	}
	simConfig.EnforceMarketHours = a.config.Backtest.EnforceMarketHours
	return simConfig
}

func (a *application) runBacktest(ctx context.Context) error {
	provider, closeProvider, err := a.buildProvider()
	if err != nil {
		return err
	}
	defer closeProvider()

	sink, closeSink, err := a.buildSink()
	if err != nil {
		return err
	}
	defer closeSink()

	strat, err := a.buildStrategy()
	if err != nil {
		return err
	}

	start, _ := a.config.Backtest.Start()
	end, _ := a.config.Backtest.End()

	engine := backtest.NewEngine(
		provider,
		backtest.NewSimulator(a.simulatorConfig(), a.logger),
		backtest.NewCalculator(a.config.Backtest.RiskFreeRate, a.logger),
		sink,
		a.logger,
	)

	result, err := engine.Run(ctx, strat, backtest.Config{
		Symbols:              a.config.Backtest.Symbols,
		StartDate:            start,
		EndDate:              end,
		InitialCapital:       a.config.Backtest.InitialCapital,
		PositionSizeFraction: a.config.Backtest.PositionSizeFraction,
		RiskFreeRate:         a.config.Backtest.RiskFreeRate,
	})
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"strategy":    result.Strategy,
		"final_value": result.Portfolio.TotalValue,
		"trades":      len(result.Trades),
		"performance": result.Performance,
		"drawdowns":   result.Drawdowns,
		"warnings":    result.Warnings,
	})
}

func (a *application) runWalkForward(ctx context.Context) error {
	provider, closeProvider, err := a.buildProvider()
	if err != nil {
		return err
	}
	defer closeProvider()

	strat, err := a.buildStrategy()
	if err != nil {
		return err
	}

	start, _ := a.config.Backtest.Start()
	end, _ := a.config.Backtest.End()

	data, err := provider.LoadHistoricalData(ctx, a.config.Backtest.Symbols, market.DateRange{Start: start, End: end})
	if err != nil {
		return fmt.Errorf("failed to load historical data: %w", err)
	}

	ranges := make(map[string]optimizer.ParameterRange, len(a.config.WalkForward.Ranges))
	for name, r := range a.config.WalkForward.Ranges {
		ranges[name] = optimizer.ParameterRange{Min: r.Min, Max: r.Max, Step: r.Step}
	}

	analyzer := optimizer.NewAnalyzer(
		backtest.NewCalculator(a.config.Backtest.RiskFreeRate, a.logger),
		a.simulatorConfig(),
		a.logger,
	)

	result, err := analyzer.Run(ctx, strat, optimizer.Config{
		Symbols:              a.config.Backtest.Symbols,
		Data:                 data,
		InSamplePeriod:       a.config.WalkForward.InSamplePeriod,
		OutOfSamplePeriod:    a.config.WalkForward.OutOfSamplePeriod,
		StepSize:             a.config.WalkForward.StepSize,
		Ranges:               ranges,
		Metric:               optimizer.ObjectiveMetric(a.config.WalkForward.Metric),
		InitialCapital:       a.config.Backtest.InitialCapital,
		PositionSizeFraction: a.config.Backtest.PositionSizeFraction,
		MaxCombinations:      a.config.WalkForward.MaxCombinations,
		Thresholds: optimizer.Thresholds{
			Score:             a.config.WalkForward.Thresholds.Score,
			ReturnDegradation: a.config.WalkForward.Thresholds.ReturnDegradation,
			SharpeDegradation: a.config.WalkForward.Thresholds.SharpeDegradation,
		},
	})
	if err != nil {
		return err
	}

	return printJSON(result)
}

func (a *application) runMigrate() error {
	if !a.config.Database.Enabled {
		return fmt.Errorf("database is disabled in configuration")
	}
	db, err := storage.NewConnection(a.databaseConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	path := a.config.Database.MigrationsPath
	if path == "" {
		path = "migrations"
	}
	migrator, err := storage.NewMigrator(db, path)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return err
	}

	version, err := migrator.Version()
	if err != nil {
		return err
	}
	a.logger.WithField("version", version).Info("migrations applied")
	return nil
}

func (a *application) runSchedule(ctx context.Context) error {
	if !a.config.Schedule.Enabled {
		return fmt.Errorf("schedule is disabled in configuration")
	}

	sched := scheduler.NewScheduler(a.logger)
	if err := sched.AddJob(a.config.Schedule.Cron, "re-backtest", func(jobCtx context.Context) error {
		return a.runBacktest(jobCtx)
	}); err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	a.logger.WithField("cron", a.config.Schedule.Cron).Info("periodic re-backtesting active")
	<-ctx.Done()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
