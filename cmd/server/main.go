package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/moneyflow/transfer-engine/internal/config"
	"github.com/moneyflow/transfer-engine/internal/engine"
	"github.com/moneyflow/transfer-engine/internal/events/kafka"
	"github.com/moneyflow/transfer-engine/internal/events/outbox"
	"github.com/moneyflow/transfer-engine/internal/fraudreview"
	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/logging"
	promcollector "github.com/moneyflow/transfer-engine/internal/metrics/prometheus"
	"github.com/moneyflow/transfer-engine/internal/reconcile"
	"github.com/moneyflow/transfer-engine/internal/risk"
	"github.com/moneyflow/transfer-engine/internal/storage/memory"
	"github.com/moneyflow/transfer-engine/internal/storage/postgres"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: "json"})
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := promcollector.NewCollector("transfer_engine", registry)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open ledger store", zap.Error(err))
	}
	defer closeStore()

	classifier := risk.New(risk.Config{
		LargeAmount:        cfg.RiskLargeAmount,
		FrequencyThreshold: cfg.RiskFrequencyThreshold,
		Window:             cfg.RiskWindow,
	})

	eng := engine.New(store, classifier, logger, collector)

	publisher := kafka.NewPublisher(kafka.Config{Brokers: cfg.KafkaBrokers}, logger)
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(store, publisher, outbox.Config{
		Interval:    cfg.OutboxInterval,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, logger, collector)

	consumer := fraudreview.NewConsumer(fraudreview.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.LifecycleTopic,
		GroupID: cfg.ReviewGroupID,
		Workers: cfg.ReviewWorkers,
	}, eng, store, classifier, logger, collector)

	sweeper := reconcile.NewSweeper(store, eng, reconcile.Config{
		Interval:    cfg.SweepInterval,
		MinAge:      cfg.SweepMinAge,
		Concurrency: cfg.SweepConcurrency,
	}, logger, collector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, task := range []func(context.Context){dispatcher.Run, consumer.Run, sweeper.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(task)
	}

	srv := newServer(cfg, eng, store, registry, logger)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	wg.Wait()
}

func openStore(cfg config.Config, logger *logging.Logger) (interfaces.LedgerStore, func(), error) {
	if cfg.StorageDriver == "postgres" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("using postgres ledger store")
		return postgres.NewStore(db), func() { db.Close() }, nil
	}

	logger.Info("using in-memory ledger store")
	return memory.NewStore(), func() {}, nil
}
