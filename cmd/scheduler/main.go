package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"bus-scheduler/internal/cache"
	"bus-scheduler/internal/config"
	"bus-scheduler/internal/db"
	"bus-scheduler/internal/handler"
	"bus-scheduler/internal/lookup"
	"bus-scheduler/internal/materializer"
	"bus-scheduler/internal/metrics"
	"bus-scheduler/internal/monitor"
	"bus-scheduler/internal/publisher"
	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/store"
	"bus-scheduler/internal/trips"
)

type backend interface {
	store.Templates
	store.Instances
	Organizations(ctx context.Context) ([]string, error)
}

type flags struct {
	once   bool
	orgs   []string
	memory bool
	seed   string
}

func main() {
	var f flags
	pflag.BoolVar(&f.once, "once", false, "run one materialize and monitor pass for every organization, then exit")
	pflag.StringSliceVar(&f.orgs, "orgs", nil, "organizations to schedule (overrides ORGANIZATIONS)")
	pflag.BoolVar(&f.memory, "memory", false, "keep templates and instances in memory instead of Postgres")
	pflag.StringVar(&f.seed, "seed", "", "JSON file with routes, buses and templates to load in --memory mode")
	pflag.Parse()

	cfg, err := config.Load(!f.memory)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, f, logger); err != nil {
		logger.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, f flags, logger *slog.Logger) error {
	logger.Info("starting bus scheduler",
		"log_level", cfg.LogLevel.String(),
		"memory", f.memory,
		"window_days", cfg.WindowDays,
		"monitor_interval", cfg.MonitorInterval.String(),
		"nats_enabled", cfg.NATSURL != "",
		"redis_enabled", cfg.RedisAddr != "",
	)
	policy := schedule.Policy{
		PastDue:      cfg.PastDue,
		AutoMissed:   cfg.AutoMissed,
		ArchiveAfter: cfg.ArchiveAfter,
	}

	var (
		st  backend
		src lookup.Source
	)
	var seed *seedFile
	if f.memory {
		mem := store.NewMemory()
		st = mem
		static := lookup.Static{Routes: map[string]schedule.Route{}, Buses: map[string]schedule.Bus{}}
		if f.seed != "" {
			var err error
			if seed, err = loadSeed(f.seed); err != nil {
				return err
			}
			for _, r := range seed.Routes {
				static.Routes[r.ID] = r
			}
			for _, b := range seed.Buses {
				static.Buses[b.ID] = b
			}
		}
		src = static
	} else {
		sqlDB, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		pg := db.NewStore(sqlDB)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		st = pg
		src = pg
	}

	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			return err
		}
		defer rc.Close()
		src = lookup.NewCached(src, rc, cfg.LookupCacheTTL, logger)
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.WindowDays, cfg.MonitorInterval, cfg.PastDue, cfg.AutoMissed)
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	svc := trips.NewService(st, st, src, policy, nil, logger)
	svc.SetMetrics(mcol)
	matOpts := materializer.Options{
		WindowDays: cfg.WindowDays,
		BatchSize:  cfg.BatchSize,
		Location:   cfg.Location,
		Metrics:    mcol,
	}

	if cfg.NATSURL != "" {
		var pm publisher.PublisherMetrics
		if mcol != nil {
			pm = mcol.PublisherMetrics()
		}
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, pm, logger)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer pub.Close()
		svc.SetPublisher(pub)
		matOpts.Publisher = pub
	}

	if seed != nil {
		for _, t := range seed.Templates {
			if _, err := svc.CreateTemplate(ctx, t, "seed"); err != nil {
				return fmt.Errorf("seed template %s: %w", t.ID, err)
			}
		}
		logger.Info("seed loaded", "routes", len(seed.Routes), "buses", len(seed.Buses), "templates", len(seed.Templates))
	}

	mat := materializer.New(st, st, src, matOpts, logger)
	mon := monitor.New(st, svc, policy, monitor.Options{Interval: cfg.MonitorInterval, Metrics: mcol}, logger)

	fixed := f.orgs
	if len(fixed) == 0 {
		fixed = cfg.Organizations
	}
	tracker := newOrgTracker(fixed, st, logger)

	if f.once {
		orgs := tracker.Current(ctx)
		if len(orgs) == 0 {
			logger.Warn("no organizations to schedule")
		}
		mat.MaterializeAll(ctx, orgs)
		for _, org := range orgs {
			res, err := mon.Tick(ctx, org)
			if err != nil {
				logger.Error("monitor tick failed", "organization", org, "error", err)
				continue
			}
			logger.Info("attention checked", "organization", org, "attention", res.Attention, "missed", res.Missed)
		}
		return nil
	}

	// Every organization gets its monitor loop the moment it is known,
	// whether discovered by the materializer pass or reported by the API.
	tracker.onNew = func(org string) { mon.Watch(ctx, org) }
	svc.SetOrganizationHook(tracker.Add)
	if orgs := tracker.Current(ctx); len(orgs) == 0 {
		logger.Warn("no organizations yet; waiting for templates")
	}

	if cfg.HTTPAddr != "" {
		h := handler.NewScheduleHandler(svc, mat, nil, cfg.Location, logger)
		mux := http.NewServeMux()
		h.Routes(mux)
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler.LoggingMiddleware(logger, handler.GzipMiddleware(mux)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "error", err)
			}
		}()
		logger.Info("api listening", "addr", cfg.HTTPAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mat.Run(ctx, tracker.Current, cfg.MaterializeInterval)
	}()

	// Block until context cancelled
	<-ctx.Done()
	mon.Stop()
	wg.Wait()
	return nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return sqlDB, nil
}
