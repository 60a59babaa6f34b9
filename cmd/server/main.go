package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vouchmesh/vouchmesh/internal/api"
	"github.com/vouchmesh/vouchmesh/internal/config"
	"github.com/vouchmesh/vouchmesh/internal/domain"
	"github.com/vouchmesh/vouchmesh/internal/store"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	var stateStore domain.ContractStateStore
	switch backend := config.StoreBackend(); backend {
	case "postgres":
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			logger.Fatal("DATABASE_URL is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		pg := store.NewPostgresStore(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to ensure schema", zap.Error(err))
		}
		stateStore = pg
		logger.Info("using postgres state store")
	case "badger":
		bs, err := store.OpenBadgerStore(config.BadgerPath(), logger)
		if err != nil {
			logger.Fatal("failed to open badger store", zap.Error(err))
		}
		defer func() { _ = bs.Close() }()
		stateStore = bs
		logger.Info("using badger state store", zap.String("path", config.BadgerPath()))
	case "memory":
		stateStore = store.NewInMemoryStore()
		logger.Info("using in-memory state store")
	default:
		logger.Fatal("unknown store backend", zap.String("backend", backend))
	}

	app := api.NewApp(stateStore, logger)

	if err := app.Network.Load(ctx); err != nil {
		logger.Fatal("failed to load network state", zap.Error(err))
	}

	// Start background services
	app.Monitor.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	// Stop background services
	app.Monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
