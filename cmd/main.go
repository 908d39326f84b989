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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/config"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/database"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/handler"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/metrics"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/notify"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository/memory"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository/mongostore"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/service"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repository.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := database.NewPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case config.BackendMongo:
		client, err := database.NewMongoClient(ctx, cfg.Mongo, log)
		if err != nil {
			return nil, err
		}
		store := mongostore.NewStore(client, cfg.Mongo.DBName)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return store, nil
	}
	log.Warn("using the in-memory store; data is lost on exit")
	return memory.NewStore(), nil
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// ── 1. Connect to storage ─────────────────────────────────────────────
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() { _ = store.Close(context.Background()) }()
	log.Info("store ready", zap.String("backend", string(cfg.Backend)))

	var notifier service.Notifier = notify.Nop{}
	if cfg.Redis.URL != "" {
		rdb, err := notify.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		notifier = notify.NewPublisher(rdb, cfg.Redis.Channel)
		log.Info("publishing roster changes", zap.String("channel", cfg.Redis.Channel))
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	recorder := metrics.NewRecorder()
	runner := txn.NewRunner[repository.Session](store, store.Classify,
		txn.Limits{WholeRetries: cfg.Transaction.WholeRetries, CommitRetries: cfg.Transaction.CommitRetries},
		txn.WithLogger(log.Named("txn")),
		txn.WithObserver(recorder),
		txn.WithExpected(service.IsRejection),
	)
	eventSvc := service.NewEventService(store, runner, cfg.Limits, notifier, log.Named("service"))
	userSvc := service.NewUserService(store)

	// ── 3. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(handler.RouterConfig{
		Events:    handler.NewEventHandler(eventSvc, log.Named("http")),
		Users:     handler.NewUserHandler(userSvc, log.Named("http")),
		Metrics:   recorder.Handler(),
		JWTSecret: cfg.JWTSecret,
		Log:       log.Named("access"),
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
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
