package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/aggregate"
	"github.com/hamed0406/apimonitor/internal/config"
	"github.com/hamed0406/apimonitor/internal/datasource"
	"github.com/hamed0406/apimonitor/internal/httpapi"
	apimw "github.com/hamed0406/apimonitor/internal/httpapi/middleware"
	"github.com/hamed0406/apimonitor/internal/logging"
	"github.com/hamed0406/apimonitor/internal/notify"
	"github.com/hamed0406/apimonitor/internal/probe"
	"github.com/hamed0406/apimonitor/internal/registry"
	"github.com/hamed0406/apimonitor/internal/repo"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
	"github.com/hamed0406/apimonitor/internal/repo/postgres"
	"github.com/hamed0406/apimonitor/internal/repo/sqlite"
	"github.com/hamed0406/apimonitor/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

type flags struct {
	config string
	addr   string
	store  string
	db     string
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:           "api",
		Short:         "Run the API monitor server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	root.Flags().StringVar(&f.config, "config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	root.Flags().StringVar(&f.addr, "addr", "", "listen address (overrides API_ADDR)")
	root.Flags().StringVar(&f.store, "store", "", "store driver: sqlite, postgres or memory")
	root.Flags().StringVar(&f.db, "db", "", "sqlite path or postgres URL, depending on --store")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.store != "" {
		cfg.StoreDriver = f.store
	}
	if f.db != "" {
		if cfg.StoreDriver == config.DriverPostgres {
			cfg.DatabaseURL = f.db
		} else {
			cfg.DatabasePath = f.db
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repo.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL, log)
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return sqlite.New(ctx, cfg.DatabasePath, log)
	}
}

func seeds(in []config.Seed) []registry.Registration {
	out := make([]registry.Registration, 0, len(in))
	for _, s := range in {
		out = append(out, registry.Registration{
			Name:           s.Name,
			URL:            s.URL,
			Method:         s.Method,
			Headers:        s.Headers,
			Body:           s.Body,
			ExpectedStatus: s.ExpectedStatus,
			CheckInterval:  s.CheckInterval,
		})
	}
	return out
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(logging.Options{
		Dir:     cfg.LogDir,
		File:    cfg.LogFile,
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("store_opened", zap.String("driver", cfg.StoreDriver))

	checker := probe.NewLimitChecker(probe.NewHTTPChecker(cfg.RequestTimeout), cfg.MaxConcurrentMonitors)
	var observers []scheduler.Observer
	if n := notify.Build(cfg.SlackWebhookURL); len(n) > 0 {
		observers = append(observers, scheduler.NewAlerter(n, scheduler.AlerterConfig{
			AlertOnRecovery: cfg.AlertOnRecovery,
			Cooldown:        cfg.AlertCooldown,
		}, logger))
		logger.Info("alerts_enabled", zap.Int("notifiers", len(n)))
	}

	sched := scheduler.New(scheduler.Deps{
		Logger:     logger,
		Endpoints:  store,
		Checker:    checker,
		Results:    store,
		Aggregator: aggregate.NewEngine(store, store, aggregate.DefaultWindow),
		Observers:  observers,
		Diagnoser:  probe.NewDNSDiagnoser(cfg.DNSServer, 0),
	})

	reg := registry.New(store, sched, logger, cfg.DefaultCheckInterval)
	if n, err := reg.Seed(ctx, seeds(cfg.SeedEndpoints)); err != nil {
		return fmt.Errorf("seed endpoints: %w", err)
	} else if n > 0 {
		logger.Info("endpoints_seeded", zap.Int("count", n))
	}

	var janitor *scheduler.Janitor
	if cfg.ResultRetention > 0 {
		janitor, err = scheduler.NewJanitor(logger, store, cfg.ResultRetention, cfg.RetentionSchedule)
		if err != nil {
			return err
		}
		janitor.Start()
	}

	if cfg.AutoStart {
		rep, err := sched.StartAll(ctx)
		if err != nil {
			return fmt.Errorf("auto start: %w", err)
		}
		logger.Info("auto_start", zap.Int("started", rep.Started))
	}

	api := httpapi.NewServer(logger, reg, sched, store, store, datasource.New(store, store, store, logger))
	httpSrv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.Router(httpapi.Options{
			Keys:           apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys},
			AllowedOrigins: cfg.AllowedOrigins,
			RateLimitRPM:   cfg.RateLimitRPM,
			RateLimitBurst: cfg.RateLimitBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_requested")
	case err := <-errCh:
		if err != nil {
			logger.Error("api_listen_failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	if err := sched.StopAll(shutdownCtx); err != nil {
		logger.Warn("monitor_shutdown_error", zap.Error(err))
	}
	if janitor != nil {
		janitor.Stop()
	}
	logger.Info("shutdown_complete")
	return nil
}
