package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/house-power-simulator/internal/pkg/config"
	"github.com/anicoll/house-power-simulator/internal/pkg/contxt"
	"github.com/anicoll/house-power-simulator/internal/pkg/database"
	"github.com/anicoll/house-power-simulator/internal/pkg/database/migration"
	"github.com/anicoll/house-power-simulator/internal/pkg/efficiency"
	"github.com/anicoll/house-power-simulator/internal/pkg/fuse"
	"github.com/anicoll/house-power-simulator/internal/pkg/kafka"
	"github.com/anicoll/house-power-simulator/internal/pkg/metrics"
	"github.com/anicoll/house-power-simulator/internal/pkg/mqtt"
	"github.com/anicoll/house-power-simulator/internal/pkg/publisher"
	"github.com/anicoll/house-power-simulator/internal/pkg/server"
	"github.com/anicoll/house-power-simulator/internal/pkg/simulation"
)

const shutdownTimeout = 5 * time.Second

var errCron = errors.New("cron error")

func ServeCommand(ctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(ctx, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	return run(ctx.Context, cfg, logger)
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet("port") {
		cfg.Port = ctx.Int("port")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("allowed-origin") {
		cfg.AllowedOrigin = ctx.String("allowed-origin")
	}
	if ctx.IsSet("overload-threshold") {
		cfg.SimulationCfg.OverloadThresholdW = ctx.Int("overload-threshold")
	}
	if ctx.IsSet("trip-delay") {
		cfg.SimulationCfg.TripDelay = ctx.Duration("trip-delay")
	}
	if ctx.IsSet("session-schedule") {
		cfg.SessionCfg.Schedule = ctx.String("session-schedule")
	}
	if ctx.IsSet("database-url") {
		cfg.DatabaseCfg.URL = ctx.String("database-url")
	}
	if ctx.IsSet("mqtt-host") {
		cfg.MqttCfg.Host = ctx.String("mqtt-host")
	}
	if ctx.IsSet("mqtt-user") {
		cfg.MqttCfg.Username = ctx.String("mqtt-user")
	}
	if ctx.IsSet("mqtt-pass") {
		cfg.MqttCfg.Password = ctx.String("mqtt-pass")
	}
	if ctx.IsSet("kafka-brokers") {
		cfg.KafkaCfg.Brokers = ctx.StringSlice("kafka-brokers")
	}
}

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()

	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = atomic
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func simulationConfig(cfg *config.Config) simulation.Config {
	s := cfg.SimulationCfg
	return simulation.Config{
		Voltage: s.NominalVoltage,
		Fuse: fuse.Settings{
			Threshold:    s.OverloadThresholdW,
			SafetyMargin: s.SafetyMarginW,
			TripDelay:    s.TripDelay,
		},
		Thresholds: efficiency.Thresholds{
			Excellent: s.ExcellentThresholdW,
			Average:   s.AverageThresholdW,
			Poor:      s.OverloadThresholdW,
		},
		HistorySize: s.HistorySize,
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sim, err := simulation.New(simulationConfig(cfg), simulation.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sim.Close()

	m := metrics.New()
	hub := server.NewHub(m)
	sim.Subscribe(hub.Observe)
	sim.Subscribe(m.Observe)

	registry := publisher.New(publisher.DefaultQueueSize, publisher.DefaultTimeout)
	sinks, db, err := setupSinks(ctx, cfg, registry)
	defer func() {
		for name, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("failed to close sink", zap.String("sink", name), zap.Error(err))
			}
		}
	}()
	if err != nil {
		return err
	}
	if registry.Len() > 0 {
		sim.Subscribe(registry.Publish)
		if err := registry.RegisterSensors(ctx, sim.Refresh()); err != nil {
			return err
		}
	}

	c, err := newScheduler(cfg, sim, db)
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithAllowedOrigin(cfg.AllowedOrigin)}
	if db != nil {
		opts = append(opts, server.WithSampleStore(db))
	}
	handler, err := server.New(sim, hub, m, opts...).Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      handler,
		Addr:         cfg.Addr(),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	parent := ctx
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := registry.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})

	eg.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("context done")
		hub.Close()
		if err := srv.Shutdown(contxt.NewContext(shutdownTimeout)); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if parent.Err() != nil {
			// stopped from outside: a clean shutdown.
			return nil
		}
		return ctx.Err()
	})

	return eg.Wait()
}

// setupSinks connects every configured sink and registers it with the
// publisher. Sinks connected before a failure are returned so they can be
// closed.
func setupSinks(ctx context.Context, cfg *config.Config, registry *publisher.Registry) (map[string]sink, *database.Database, error) {
	sinks := map[string]sink{}
	var db *database.Database

	if cfg.DatabaseCfg.URL != "" {
		var err error
		db, err = database.NewDatabase(ctx, cfg.DatabaseCfg.URL)
		if err != nil {
			return sinks, nil, fmt.Errorf("connecting to database: %w", err)
		}
		sinks["postgres"] = db
		if err := migration.Migrate(cfg.DatabaseCfg.URL); err != nil {
			return sinks, nil, fmt.Errorf("migrating database: %w", err)
		}
	}

	if cfg.MqttCfg.Host != "" {
		svc := mqtt.New(mqtt.NewClient(cfg.MqttCfg))
		if err := svc.Connect(); err != nil {
			return sinks, db, fmt.Errorf("connecting to mqtt: %w", err)
		}
		sinks["mqtt"] = svc
	}

	if len(cfg.KafkaCfg.Brokers) > 0 {
		sinks["kafka"] = kafka.New(kafka.NewWriter(cfg.KafkaCfg))
	}

	for name, s := range sinks {
		if err := registry.RegisterPublisher(name, s); err != nil {
			return sinks, db, err
		}
		zap.L().Info("registered sink", zap.String("sink", name))
	}
	return sinks, db, nil
}

func newScheduler(cfg *config.Config, sim *simulation.Simulation, db *database.Database) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(cfg.SessionCfg.Schedule, func() {
		sim.RolloverSession()
	}); err != nil {
		return nil, fmt.Errorf("%w: session schedule %q: %w", errCron, cfg.SessionCfg.Schedule, err)
	}
	if db == nil {
		return c, nil
	}
	if _, err := c.AddFunc(cfg.DatabaseCfg.CleanupSchedule, func() {
		removed, err := db.Cleanup(contxt.NewContext(time.Minute), cfg.DatabaseCfg.Retention)
		if err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			return
		}
		zap.L().Info("database cleaned up", zap.Int64("removed", removed))
	}); err != nil {
		return nil, fmt.Errorf("%w: cleanup schedule %q: %w", errCron, cfg.DatabaseCfg.CleanupSchedule, err)
	}
	return c, nil
}
