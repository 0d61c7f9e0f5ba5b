package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/darleyabbeyfc/contact-gateway/internal/config"
	"github.com/darleyabbeyfc/contact-gateway/internal/contact"
	"github.com/darleyabbeyfc/contact-gateway/internal/health"
	"github.com/darleyabbeyfc/contact-gateway/internal/logger"
	"github.com/darleyabbeyfc/contact-gateway/internal/mailer"
	"github.com/darleyabbeyfc/contact-gateway/internal/metrics"
	gwmw "github.com/darleyabbeyfc/contact-gateway/internal/middleware"
	"github.com/darleyabbeyfc/contact-gateway/internal/repository"
	"github.com/darleyabbeyfc/contact-gateway/internal/static"
)

// Version is set at build time
var Version = "dev"

func main() {
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	cfg, err := loadConfig()
	if err != nil {
		log.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]health.Checker{}

	limiter, closeLimiter := setupLimiter(ctx, cfg, log, checks)
	defer closeLimiter()

	var store contact.SubmissionStore
	if cfg.Database.Enabled {
		pool, err := setupDatabase(ctx, cfg, log)
		if err != nil {
			log.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		repo := repository.NewSubmissionRepository(pool)
		store = repo
		checks["database"] = health.CheckerFunc(pool.Ping)
		go metrics.NewDBStatsCollector(pool, log).Run(ctx, 15*time.Second)

		if n, err := repo.CountSince(ctx, time.Now().Add(-24*time.Hour)); err == nil {
			log.Info("submission store ready", slog.Int64("last_24h", n))
		}
	}

	var sender, ackSender mailer.Mailer
	configured := cfg.Mail.Configured()
	if configured {
		sender, ackSender, err = mailer.New(ctx, cfg.Mail, log)
		if err != nil {
			log.Error("failed to initialize mail provider", slog.String("provider", cfg.Mail.Provider), slog.String("error", err.Error()))
			configured = false
		}
	} else {
		log.Warn("mail delivery is not configured, contact submissions will be refused",
			slog.String("provider", cfg.Mail.Provider))
	}

	contactHandler := contact.NewHandler(contact.HandlerConfig{
		Configured: configured,
		Composer: contact.Composer{
			From:          cfg.Mail.From,
			FromName:      cfg.Mail.FromName,
			To:            cfg.Mail.To,
			SubjectPrefix: cfg.Mail.SubjectPrefix,
			OrgName:       cfg.Mail.OrgName,
			AckSubject:    cfg.Mail.AckSubject,
		},
		Limiter:     limiter,
		Mailer:      sender,
		AckMailer:   ackSender,
		Store:       store,
		Logger:      log,
		BodyLimit:   cfg.Server.BodyLimitBytes,
		SendTimeout: cfg.Mail.SendTimeout,
	})

	healthHandler := health.NewHandler(health.Config{
		Checks:  checks,
		Version: Version,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(gwmw.TrustProxy(cfg.Server.TrustProxy))
	r.Use(gwmw.StructuredLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	if len(cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", healthHandler.Liveness)
	r.Get("/ready", healthHandler.Readiness)
	r.Handle("/metrics", metrics.Handler())
	contact.RegisterRoutes(r, contactHandler)

	site := static.New(os.DirFS(cfg.Static.Root), log)
	r.NotFound(site.ServeHTTP)
	r.MethodNotAllowed(site.ServeHTTP)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Mail.SendTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.String("version", Version),
			slog.Bool("mail_configured", configured),
			slog.String("rate_limit_backend", cfg.RateLimit.Backend),
			slog.Bool("store_enabled", store != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	contactHandler.Wait()

	log.Info("server exited")
}

// loadConfig reads CONFIG_FILE when set, then applies the environment.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLimiter returns the configured rate limiter and a cleanup func. The
// Redis backend registers itself with the readiness checks.
func setupLimiter(ctx context.Context, cfg *config.Config, log *slog.Logger, checks map[string]health.Checker) (gwmw.Limiter, func()) {
	rl := cfg.RateLimit
	if rl.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		checks["redis"] = health.RedisChecker(rdb)
		log.Info("rate limiter initialized",
			slog.String("backend", "redis"),
			slog.String("addr", cfg.Redis.Addr),
			slog.Int("max", rl.Max),
			slog.Duration("window", rl.Window),
		)
		return gwmw.NewRedisRateLimiter(rdb, rl.Max, rl.Window), func() { rdb.Close() }
	}

	mem := gwmw.NewRateLimiter(rl.Max, rl.Window, gwmw.WithMaxBuckets(rl.MaxBuckets))
	mem.StartJanitor(ctx)
	log.Info("rate limiter initialized",
		slog.String("backend", "memory"),
		slog.Int("max", rl.Max),
		slog.Duration("window", rl.Window),
		slog.Int("max_buckets", rl.MaxBuckets),
	)
	return mem, func() {}
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Submissions are low volume; a small pool is plenty.
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		slog.String("dbname", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host),
		slog.String("port", cfg.Database.Port),
	)
	return pool, nil
}
