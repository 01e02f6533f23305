// Command ingestion starts the document ingestion HTTP service.
//
// The service accepts visual-word documents via POST /api/v1/documents,
// validates them against the configured word space, registers them in
// PostgreSQL and publishes them to Kafka for the indexer. Registration state
// is readable at GET /api/v1/documents/{id}.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/registry"
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
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("ingestion", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", producer.Topic())

	reg := registry.New(db)
	pub := publisher.New(reg, producer)
	h := handler.New(pub, reg, validator.Limits{
		WordSpace:     cfg.Database.WordSpaceSize,
		MaxWords:      cfg.Ingestion.MaxWordsPerDocument,
		MaxPathLength: cfg.Ingestion.MaxImagePathLength,
	})

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 10*time.Minute)
		go limiter.RunSweeper(ctx, time.Minute)
		chain = middleware.RateLimit(limiter, m)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
