// Command indexer consumes ingest events from Kafka, inserts them into the
// vocabulary-tree database and periodically recomputes TF-IDF weights. Each
// new weight generation is written to the snapshot store and announced on the
// weights-updated topic so searchers can reload.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service",
		"word_space", cfg.Database.WordSpaceSize,
		"snapshot_backend", cfg.Snapshot.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("indexer", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	store, err := snapshot.Open(ctx, cfg.Snapshot)
	if err != nil {
		slog.Error("failed to open snapshot store", "error", err)
		os.Exit(1)
	}
	store = snapshot.WithCircuitBreaker(store, snapshot.NewBreaker("snapshot-store", m))

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.WeightsUpdated)
	defer producer.Close()

	engine, err := indexer.NewEngine(ctx, cfg.Database, store, indexer.NewKafkaNotifier(producer), m)
	if err != nil {
		slog.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("snapshot_store", health.PingCheck(store.Ping))

	var statuses consumer.StatusRecorder
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, document statuses will not be recorded", "error", err)
	} else {
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		statuses = registry.New(db)
		checker.Register("postgres", health.PingCheck(db.Ping))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, engine.Stats())
	})

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("indexer admin listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()

	maintenanceDone := engine.StartMaintenanceLoop(ctx)

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DocumentIngest,
		consumer.HandleMessage(engine, statuses),
	)
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("waiting for final snapshot")
	<-maintenanceDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", "error", err)
	}
	slog.Info("indexer service stopped")
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
