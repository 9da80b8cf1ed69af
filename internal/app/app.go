// Package app wires a context from configuration: the engine, its routes,
// the Redis snapshot publisher and the management server.
package app

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/relay/internal/component"
	"github.com/MrSnakeDoc/relay/internal/config"
	"github.com/MrSnakeDoc/relay/internal/engine"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/management"
	"github.com/MrSnakeDoc/relay/internal/management/deps"
	"github.com/MrSnakeDoc/relay/internal/management/mw"
	"github.com/MrSnakeDoc/relay/internal/metrics"
	"github.com/MrSnakeDoc/relay/internal/redis"
	"github.com/MrSnakeDoc/relay/internal/scheduler"
	"github.com/MrSnakeDoc/relay/internal/shutdown"
	routesource "github.com/MrSnakeDoc/relay/internal/sources/routes"
	redisstore "github.com/MrSnakeDoc/relay/internal/store/redis"
	"github.com/MrSnakeDoc/relay/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	engine      *engine.Engine
	server      *management.Server
	redisClient *goredis.Client
}

// New builds the context described by cfg. Routes are added but nothing is
// started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)

	var (
		reg       *prometheus.Registry
		collector *metrics.Collector
	)
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.New(reg)
	}

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithVersion(version.Version),
		engine.WithMaxDynamicEndpoints(cfg.DynamicEndpointCache),
		engine.WithShutdownStrategy(shutdownStrategy(cfg)),
		engine.WithGlobalOptions(cfg.GlobalOptions),
	}
	e := engine.New(cfg.Name, append(opts, collector.Options()...)...)

	if err := component.RegisterDefaults(e, log); err != nil {
		return nil, fmt.Errorf("failed to register components: %w", err)
	}

	if cfg.RoutesFile != "" {
		if err := loadRoutes(ctx, e, cfg, log); err != nil {
			return nil, err
		}
	}

	a := &App{cfg: cfg, logger: log, engine: e}

	var store *redisstore.Store
	if cfg.RedisAddr != "" {
		var err error
		if store, err = a.connectSnapshots(ctx); err != nil {
			return nil, err
		}
	} else {
		log.Info("redis not configured, snapshot publishing disabled")
	}

	if cfg.ManagementAddr != "" {
		d := deps.Deps{
			Logger:       log,
			StartTime:    time.Now(),
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
			GoVersion:    version.GoVersion,
			TimeNow:      time.Now,
			Context:      e,
			AllowedHosts: cfg.AllowedHosts,
			AllowedCIDRS: cfg.AllowedCIDRS,
			TrustProxy:   cfg.TrustProxy,
			RateLimit: mw.RateLimitConfig{
				Burst:             cfg.RateLimitBurst,
				RefillPerIPPerMin: cfg.RateLimitPerMin,
			},
		}
		if reg != nil {
			d.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		}
		if store != nil {
			d.SnapshotStore = store
		}
		a.server = management.New(cfg.ManagementAddr, log, d)
	}

	return a, nil
}

func shutdownStrategy(cfg *config.Config) shutdown.Strategy {
	return shutdown.Strategy{
		Timeout:                  cfg.RouteTimeout,
		GlobalTimeout:            cfg.ShutdownTimeout,
		SuppressLoggingOnTimeout: cfg.SuppressTimeoutLog,
		Parallelism:              cfg.ShutdownParallelism,
		PollInterval:             cfg.DrainPollInterval,
	}
}

// loadRoutes adds the routes file to e. Global options from the file are
// overridden by those set in the environment.
func loadRoutes(ctx context.Context, e *engine.Engine, cfg *config.Config, log logger.Logger) error {
	f, err := routesource.NewLoader(cfg.RoutesFile).Load()
	if err != nil {
		return err
	}
	defs, err := routesource.NewMapper().MapRoutes(f)
	if err != nil {
		return fmt.Errorf("invalid routes file %s: %w", cfg.RoutesFile, err)
	}

	global := maps.Clone(f.GlobalOptions)
	if global == nil {
		global = make(map[string]string)
	}
	maps.Copy(global, cfg.GlobalOptions)
	e.SetGlobalOptions(global)

	if err := e.AddRouteDefinitions(ctx, defs...); err != nil {
		return fmt.Errorf("failed to add routes: %w", err)
	}
	log.Info("routes loaded",
		logger.String("file", cfg.RoutesFile),
		logger.Int("routes", len(defs)))
	return nil
}

// connectSnapshots connects to Redis and registers the snapshot publisher
// and janitor as services of the engine.
func (a *App) connectSnapshots(ctx context.Context) (*redisstore.Store, error) {
	cfg := a.cfg
	a.logger.Infof("connecting to redis at %s", cfg.RedisAddr)
	client, err := redis.New(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redisClient = client
	store := redisstore.NewStore(client)

	e := a.engine
	publisher := scheduler.NewSnapshotPublisher(
		func() *redisstore.Snapshot { return redisstore.Capture(e) },
		store,
		a.logger.Named("snapshots"),
		cfg.SnapshotInterval,
		cfg.SnapshotTTL,
	)
	// deferred so the first snapshot already lists the started routes
	if _, err := e.DeferStartService(ctx, publisher, true); err != nil {
		return nil, err
	}

	janitor := scheduler.NewSnapshotJanitor(
		store,
		e.ManagementName(),
		a.logger.Named("janitor"),
		cfg.SnapshotInterval*10,
		scheduler.DefaultStaleThreshold,
	)
	if _, err := e.AddService(ctx, janitor, true, false); err != nil {
		return nil, err
	}

	err = e.AddStartupListener(ctx, engine.StartupListenerFunc(
		func(context.Context, *engine.Engine, bool) error {
			publisher.Trigger()
			return nil
		}))
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Run starts the context and blocks until SIGINT or SIGTERM, then drains it.
func (a *App) Run() error {
	a.logger.Infof("starting relay %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.engine.Start(ctx); err != nil {
		a.closeRedis()
		return fmt.Errorf("failed to start context %s: %w", a.engine.Name(), err)
	}

	errCh := make(chan error, 1)
	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				errCh <- fmt.Errorf("management server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")
	case runErr = <-errCh:
	}

	// bounded by the shutdown strategy, not by ctx
	if err := a.engine.Stop(context.Background()); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("failed to stop context: %w", err))
	}
	if report := a.engine.LastShutdownReport(); report != nil && len(report.Forced()) > 0 {
		a.logger.Warn("routes were force-stopped", logger.Strings("routes", report.Forced()))
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := a.server.Stop(shutdownCtx); err != nil {
			runErr = multierr.Append(runErr, fmt.Errorf("failed to stop server: %w", err))
		}
	}

	a.closeRedis()
	_ = a.logger.Sync()
	if runErr == nil {
		a.logger.Info("relay stopped cleanly")
	}
	return runErr
}

func (a *App) closeRedis() {
	if a.redisClient == nil {
		return
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Warnf("failed to close redis: %v", err)
		return
	}
	a.logger.Info("redis closed cleanly")
}

// Engine returns the context managed by the app.
func (a *App) Engine() *engine.Engine { return a.engine }
