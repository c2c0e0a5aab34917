package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/chairmatch/internal/config"
	"github.com/example/chairmatch/internal/dispatch"
	"github.com/example/chairmatch/internal/engine"
	"github.com/example/chairmatch/internal/geo"
	httpapi "github.com/example/chairmatch/internal/http"
	"github.com/example/chairmatch/internal/ingest"
	"github.com/example/chairmatch/internal/logging"
	"github.com/example/chairmatch/internal/matcher"
	"github.com/example/chairmatch/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := applyMigrations(ctx, pg, logger); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set, falling back to in-memory store")
		store = storage.NewMemoryStore()
	}

	cache := geo.NewPositionCache()

	var ingestMirror ingest.Mirror
	var httpMirror httpapi.Mirror
	if cfg.RedisAddr != "" {
		rm := geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKeyPrefix)
		if err := rm.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, position mirror disabled", "error", err)
			rm.Close()
		} else {
			defer rm.Close()
			ingestMirror = rm
			httpMirror = rm
		}
	}

	var disp dispatch.Dispatcher = dispatch.NopDispatcher{}
	if len(cfg.KafkaBrokers) > 0 {
		kd := dispatch.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaAssignmentsTopic)
		defer kd.Close()
		disp = kd
	}

	eng := engine.New(store, &matcher.Service{Positions: cache}, disp, logger, cfg.MatchInterval)
	go eng.Run(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		consumer := ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaLocationsTopic, cfg.KafkaGroup, cache, ingestMirror, logger)
		go consumer.Run(ctx)
	}

	api := httpapi.NewServer(store, cache, httpMirror, eng, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown incomplete", "error", err)
	}
	logger.Info("engine stopped")
}

func applyMigrations(ctx context.Context, pg *storage.PostgresStore, logger *slog.Logger) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		return err
	}
	if err := pg.Exec(ctx, string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", "001_init.sql")
	return nil
}
