package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	txcmd "github.com/eaglebank/transaction-service/internal/command"
	"github.com/eaglebank/transaction-service/internal/config"
	"github.com/eaglebank/transaction-service/internal/handler"
	"github.com/eaglebank/transaction-service/internal/ledger"
	txqry "github.com/eaglebank/transaction-service/internal/query"
	"github.com/eaglebank/transaction-service/internal/reconcile"
	"github.com/eaglebank/transaction-service/internal/repository"
	"github.com/eaglebank/transaction-service/shared/auth"
	"github.com/eaglebank/transaction-service/shared/events"
	"github.com/eaglebank/transaction-service/shared/logger"
	"github.com/eaglebank/transaction-service/shared/middleware"
	redisClient "github.com/eaglebank/transaction-service/shared/redis"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("transaction service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	var (
		ledgerClient  ledger.Client
		compensations ledger.Client
		store         txcmd.TransactionRecorder
		reader        txqry.TransactionReader
		cache         txcmd.TransactionCache
		publisher     events.EventPublisher
		reconciler    events.EventPublisher
		checks        []handler.HealthCheck
		redis         *redisClient.Client
	)

	if cfg.MockMode {
		zl.Warn("mock mode: using in-memory account ledger and transaction store")
		mem := ledger.NewMemoryLedger()
		mem.Seed("1", decimal.RequireFromString("1000.00"), cfg.DefaultCurrency)
		mem.Seed("2", decimal.RequireFromString("250.00"), cfg.DefaultCurrency)
		mem.Seed("3", decimal.Zero, cfg.DefaultCurrency)
		ledgerClient = mem

		memStore := repository.NewMemoryTransactionStore()
		store, reader = memStore, memStore
		publisher = events.NewLogPublisher(zl)
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		redis, err = redisClient.Connect(ctx, redisClient.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		defer redis.Close()

		writeRepo := repository.NewTransactionWriteRepository(db)
		readRepo := repository.NewTransactionReadRepository(db, redis.Client, cfg.CacheTTL, zl)
		store, reader, cache = writeRepo, readRepo, readRepo

		// Only forward legs are gated by the breaker; restores always reach the ledger.
		accounts := ledger.NewHTTPClient(cfg.AccountsAPIURL, cfg.LedgerTimeout)
		breaker := ledger.NewBreakerClient(accounts,
			ledger.BreakerSettings{ConsecutiveFailures: uint32(cfg.BreakerFailures), Cooldown: cfg.BreakerCooldown},
			zl,
		)
		ledgerClient, compensations = breaker, accounts
		if cfg.IdempotencyKeys && cfg.LedgerMaxAttempts > 1 {
			ledgerClient = ledger.NewRetryingClient(breaker, cfg.LedgerMaxAttempts, 200*time.Millisecond, zl)
			compensations = ledger.NewRetryingClient(accounts, cfg.LedgerMaxAttempts, 200*time.Millisecond, zl)
		}

		reconciler = events.NewPublisher(redis.Client)
		publisher = reconciler
		if cfg.EventSink == config.EventSinkKafka {
			kafka := events.NewKafkaPublisher(cfg.KafkaBrokers)
			defer kafka.Close()
			publisher = kafka
		}

		checks = append(checks,
			handler.HealthCheck{Name: "postgres", Check: db.PingContext},
			handler.HealthCheck{Name: "redis", Check: redis.Check},
		)

		if cfg.ReconcileServiceToken != "" {
			worker := reconcile.NewReconciler(accounts, reconciler,
				redisClient.NewProcessedMarker(redis.Client, "transaction:reconciled:", 7*24*time.Hour),
				reconcile.Config{
					ServiceToken:    cfg.ReconcileServiceToken,
					IdempotencyKeys: cfg.IdempotencyKeys,
					MaxAttempts:     cfg.ReconcileMaxAttempts,
				},
				zl)
			go func() {
				if err := worker.Run(ctx, redis.Client, cfg.ReconcileConsumer); err != nil && !errors.Is(err, context.Canceled) {
					zl.Error("reconciler stopped", zap.Error(err))
				}
			}()
		} else {
			zl.Warn("RECONCILE_SERVICE_TOKEN not set; failed compensations stay queued for manual reconciliation")
		}
	}

	commandSvc := txcmd.NewTransactionCommandService(ledgerClient, store, cache, publisher, reconciler, zl, txcmd.Options{
		IdempotencyKeys: cfg.IdempotencyKeys,
		Compensations:   compensations,
		DefaultCurrency: cfg.DefaultCurrency,
	})
	querySvc := txqry.NewTransactionQueryService(reader)
	transactionHandler := handler.NewTransactionHandler(commandSvc, querySvc, zl)
	healthHandler := handler.NewHealthHandler(2*time.Second, checks...)

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(zl), middleware.LoggingMiddleware(zl))

	router.GET("/health", healthHandler.Live)
	router.GET("/health/ready", healthHandler.Ready)

	api := router.Group("/api/transactions", middleware.AuthMiddleware(verifier, zl))
	if redis != nil && cfg.RateLimitRequests > 0 {
		api.Use(middleware.NewRateLimiter(redis.Client, cfg.RateLimitRequests, cfg.RateLimitWindow, zl).Middleware())
	}
	transactionHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("transaction service starting",
			zap.String("port", cfg.Port),
			zap.Bool("mock_mode", cfg.MockMode),
			zap.Bool("idempotency_keys", cfg.IdempotencyKeys),
			zap.String("event_sink", cfg.EventSink))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		zl.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("http server shutdown error", zap.Error(err))
	}
	zl.Info("transaction service stopped")
	return nil
}

func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	if cfg.AuthMode == config.AuthModeRemote {
		return auth.NewRemoteVerifier(cfg.AuthAPIURL, cfg.AuthTimeout), nil
	}
	return auth.NewJWTVerifier(cfg.JWTSecret)
}
