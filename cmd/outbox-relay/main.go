package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/availability-engine/internal/config"
	"github.com/hackgods/availability-engine/internal/db"
	"github.com/hackgods/availability-engine/internal/events"
	"github.com/hackgods/availability-engine/internal/logging"
	"github.com/hackgods/availability-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, closeLog := logging.New("outbox-relay", cfg)
	defer closeLog.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Error("outbox relay stopped with error", "err", err)
		stop()
		closeLog.Close()
		os.Exit(1)
	}
	logger.Info("outbox relay stopped")
}

// run relays until ctx is cancelled. Startup failures are returned so the
// process exits non-zero and a supervisor restarts it.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	brokers := events.SplitBrokers(cfg.KafkaBrokers)
	logger.Info("outbox relay starting up", "interval", cfg.OutboxInterval, "batch_size", cfg.OutboxBatchSize, "brokers", brokers)

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	writer := events.NewKafkaWriter(brokers)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn("error closing kafka writer", "err", err)
		}
	}()

	relay := events.NewRelay(store.NewPgStore(pgPool), writer, logger, cfg.OutboxBatchSize)
	relay.Run(ctx, cfg.OutboxInterval)
	return nil
}
