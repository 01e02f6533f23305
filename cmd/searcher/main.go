// Command searcher serves find and pair-generation queries from a read-only
// copy of the vocabulary-tree database. The copy is restored from the
// snapshot store at startup and reloaded whenever the indexer announces a new
// weight generation on Kafka.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/reloader"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/redis"
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
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("searcher", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	store, err := snapshot.Open(ctx, cfg.Snapshot)
	if err != nil {
		slog.Error("failed to open snapshot store", "error", err)
		os.Exit(1)
	}
	store = snapshot.WithCircuitBreaker(store, snapshot.NewBreaker("snapshot-store", m))

	engine, err := indexer.NewReadOnlyEngine(ctx, cfg.Database, store, m)
	if err != nil {
		slog.Error("failed to load database", "error", err)
		os.Exit(1)
	}
	stats := engine.Stats()
	slog.Info("database loaded", "documents", stats.Documents, "generation", stats.Generation)

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, find caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		slog.Info("find cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	// Every searcher must see every weights event, so each instance reads
	// the topic under its own group.
	group := fmt.Sprintf("%s-searcher-%s", cfg.Kafka.ConsumerGroup, instanceID())
	var invalidator reloader.Invalidator
	if queryCache != nil {
		invalidator = queryCache
	}
	reloadConsumer := kafka.NewGroupConsumer(cfg.Kafka, cfg.Kafka.Topics.WeightsUpdated, group,
		reloader.HandleMessage(engine, invalidator))
	go func() {
		if err := reloadConsumer.Start(ctx); err != nil {
			slog.Error("reload consumer error", "error", err)
		}
	}()
	slog.Info("listening for weight updates", "topic", cfg.Kafka.Topics.WeightsUpdated, "group", group)

	checker := health.NewChecker()
	checker.Register("database", func(ctx context.Context) health.ComponentHealth {
		s := engine.Stats()
		if s.Generation == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no weights loaded"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents, generation %d", s.Documents, s.Generation),
		}
	})
	checker.Register("snapshot_store", health.PingCheck(store.Ping))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	exec := executor.New(engine.Database(), m)
	h := handler.New(exec, engine, queryCache, cfg.Search, m)

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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()[:8]
}
