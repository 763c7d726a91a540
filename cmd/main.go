// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
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

	"github.com/exjam-alumni/eventreg/internal/auth"
	"github.com/exjam-alumni/eventreg/internal/config"
	"github.com/exjam-alumni/eventreg/internal/database"
	"github.com/exjam-alumni/eventreg/internal/handler"
	"github.com/exjam-alumni/eventreg/internal/logger"
	"github.com/exjam-alumni/eventreg/internal/metrics"
	"github.com/exjam-alumni/eventreg/internal/notify"
	"github.com/exjam-alumni/eventreg/internal/payment"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/exjam-alumni/eventreg/internal/repository/memory"
	"github.com/exjam-alumni/eventreg/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(logger.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
		Version:     cfg.AppVersion,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// ── 1. Storage ────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── 2. Notifications and metrics ──────────────────────────────────────
	dispatcher, closeNotify := openDispatcher(ctx, cfg, log)
	defer closeNotify()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	deps := service.Deps{
		Store:    store,
		Notifier: notify.NewNotifier(dispatcher, log),
		Metrics:  m,
		Log:      log,
	}
	promoter := service.NewPromoter(deps, cfg.WaitlistOfferWindow)
	h := handler.NewHandler(handler.Services{
		Events:        service.NewEventService(deps, cfg.DefaultCurrency),
		Capacity:      service.NewCapacityTracker(store),
		Registrations: service.NewRegistrationService(deps, promoter),
		Promoter:      promoter,
		Reconciler:    service.NewReconciler(deps, payment.NewPaystack(cfg.PaystackSecretKey), promoter, cfg.PublicBaseURL),
		CheckIn:       service.NewCheckInService(deps),
	}, log)
	router := handler.NewRouter(h, auth.NewVerifier(cfg.AuthJWTSecret), m, log)

	// ── 4. Offer sweeper ──────────────────────────────────────────────────
	if cfg.WaitlistSweepInterval > 0 {
		go sweepOffers(ctx, promoter, cfg.WaitlistSweepInterval, log)
	}

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repository.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	}

	if cfg.RunMigrations {
		if err := database.Migrate(cfg.DB.URL()); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("database migrations applied")
	}
	pool, err := database.NewPool(ctx, cfg.DB, log)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	log.Info("connected to PostgreSQL", zap.String("host", cfg.DB.Host), zap.String("db", cfg.DB.Name))
	return repository.NewPgStore(pool), pool.Close, nil
}

func openDispatcher(ctx context.Context, cfg config.Config, log *zap.Logger) (notify.Dispatcher, func()) {
	if cfg.NotifyDriver != config.NotifyDriverRedis {
		return notify.NewLogDispatcher(log), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// Notifications are best-effort; keep serving and let sends log.
		log.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return notify.NewRedisDispatcher(client, cfg.NotifyQueue), func() { _ = client.Close() }
}

func sweepOffers(ctx context.Context, promoter *service.Promoter, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := promoter.ExpireOffers(ctx)
			if err != nil {
				log.Error("offer sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("offer sweep expired offers", zap.Int("expired", n))
			}
		}
	}
}
