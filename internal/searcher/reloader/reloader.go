// Package reloader keeps a searcher's database in step with the indexer: on
// every weights-updated event it loads the announced snapshot and drops the
// cached find results of older generations.
package reloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/resilience"
)

// Reloader loads the latest snapshot into the serving database.
type Reloader interface {
	Reload(ctx context.Context) (voctree.Stats, error)
	Stats() voctree.Stats
}

// Invalidator drops cached results.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// reloadTimeout bounds a single attempt to fetch and load a snapshot.
var reloadTimeout = 2 * time.Minute

var retryConfig = resilience.RetryConfig{
	MaxAttempts:    4,
	InitialDelay:   200 * time.Millisecond,
	MaxDelay:       5 * time.Second,
	Multiplier:     2.0,
	JitterFraction: 0.2,
	Retryable: func(err error) bool {
		return !errors.Is(err, snapshot.ErrNotFound) && !errors.Is(err, resilience.ErrCircuitOpen)
	},
}

// HandleMessage returns a Kafka MessageHandler for weights-updated events.
// Events for a generation the database already serves are acknowledged
// without reloading. cache may be nil.
func HandleMessage(engine Reloader, cache Invalidator) kafka.MessageHandler {
	log := logger.WithComponent("reloader")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.WeightsEvent](value)
		if err != nil {
			log.Error("failed to decode weights event", "error", err, "key", string(key))
			return err
		}
		current := engine.Stats().Generation
		if event.Generation <= current {
			log.Debug("weights event already applied",
				"event_generation", event.Generation,
				"generation", current,
			)
			return nil
		}

		err = resilience.Retry(ctx, "snapshot-reload", retryConfig, func() error {
			return resilience.WithTimeout(ctx, reloadTimeout, "snapshot-reload", func(ctx context.Context) error {
				_, err := engine.Reload(ctx)
				return err
			})
		})
		if err != nil {
			return fmt.Errorf("reloading generation %d: %w", event.Generation, err)
		}
		stats := engine.Stats()
		log.Info("database reloaded",
			"event_generation", event.Generation,
			"generation", stats.Generation,
			"documents", stats.Documents,
			"lag", time.Since(event.PublishedAt),
		)

		if cache != nil {
			if err := cache.Invalidate(ctx); err != nil {
				log.Warn("cache invalidation after reload failed", "error", err)
			}
		}
		return nil
	}
}
