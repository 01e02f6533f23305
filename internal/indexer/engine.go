// Package indexer owns the writable vocabulary-tree database: it inserts
// documents, recomputes TF-IDF weights, writes snapshots to the snapshot
// store and announces new weight generations to searchers.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/resilience"
)

// WeightsEvent announces that a snapshot carrying a new weight generation is
// available in the snapshot store.
type WeightsEvent struct {
	Generation  uint64    `json:"generation"`
	Documents   uint64    `json:"documents"`
	Snapshot    string    `json:"snapshot"`
	PublishedAt time.Time `json:"published_at"`
}

// Notifier delivers WeightsEvents to searchers.
type Notifier interface {
	WeightsUpdated(ctx context.Context, event WeightsEvent) error
}

// snapshotMark identifies a database state. Documents only grow and the
// generation only increases, so equal marks mean nothing changed.
type snapshotMark struct {
	documents  uint64
	generation uint64
}

type Engine struct {
	db       *voctree.Database
	store    snapshot.Store
	notifier Notifier
	cfg      config.DatabaseConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	snapshotMu    sync.Mutex
	lastSnapshot  snapshotMark
	lastNotified  uint64
	uploadRetries resilience.RetryConfig
}

// NewEngine restores the database from the snapshot store when a snapshot
// exists and otherwise starts an empty database of cfg.WordSpaceSize words.
// notifier and m may be nil.
func NewEngine(ctx context.Context, cfg config.DatabaseConfig, store snapshot.Store, notifier Notifier, m *metrics.Metrics) (*Engine, error) {
	compression, err := voctree.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.WithComponent("indexer"),
		uploadRetries: resilience.RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
	}
	opts := []voctree.Option{voctree.WithCompression(compression), voctree.WithLogger(e.logger)}

	db := voctree.NewEmpty(opts...)
	restored, err := e.restore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("restoring snapshot: %w", err)
	}
	if !restored {
		db = voctree.New(cfg.WordSpaceSize, opts...)
		e.logger.Info("no snapshot found, starting empty database", "word_space", cfg.WordSpaceSize)
	} else if db.WordSpace() != cfg.WordSpaceSize {
		return nil, fmt.Errorf("snapshot word space %d does not match configured %d", db.WordSpace(), cfg.WordSpaceSize)
	}
	e.db = db
	stats := db.Stats()
	e.lastSnapshot = snapshotMark{documents: stats.Documents, generation: stats.Generation}
	e.lastNotified = stats.Generation
	e.observe(stats)
	return e, nil
}

// NewReadOnlyEngine is used by searchers: it requires an existing snapshot
// and never writes one back.
func NewReadOnlyEngine(ctx context.Context, cfg config.DatabaseConfig, store snapshot.Store, m *metrics.Metrics) (*Engine, error) {
	e := &Engine{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger.WithComponent("index-replica"),
	}
	e.db = voctree.NewEmpty(voctree.WithLogger(e.logger))
	restored, err := e.restore(ctx, e.db)
	if err != nil {
		return nil, fmt.Errorf("restoring snapshot: %w", err)
	}
	if !restored {
		e.logger.Warn("no snapshot available yet, serving unavailable until the first reload")
	}
	return e, nil
}

func (e *Engine) restore(ctx context.Context, db *voctree.Database) (bool, error) {
	rc, err := e.store.Get(ctx, e.cfg.SnapshotName)
	if errors.Is(err, snapshot.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer rc.Close()
	if err := db.Load(rc); err != nil {
		return false, err
	}
	stats := db.Stats()
	e.logger.Info("snapshot restored",
		"snapshot", e.cfg.SnapshotName,
		"documents", stats.Documents,
		"generation", stats.Generation,
		"unweighted", stats.Unweighted,
	)
	return true, nil
}

// Database exposes the underlying database for queries.
func (e *Engine) Database() *voctree.Database {
	return e.db
}

// IndexDocument validates words against the vocabulary and inserts the
// document. The document becomes searchable after the next Reweight.
func (e *Engine) IndexDocument(ctx context.Context, id voctree.DocID, words []voctree.Word) error {
	hist, err := e.db.Histogram(words)
	if err == nil {
		err = e.db.Insert(id, hist)
	}
	switch {
	case err == nil:
		e.count("inserted")
	case errors.Is(err, apperrors.ErrDuplicateDocument):
		e.count("duplicate")
		return err
	default:
		e.count("rejected")
		return fmt.Errorf("indexing document %d: %w", id, err)
	}
	e.logger.Debug("document indexed",
		"doc_id", id,
		"words", len(words),
		"distinct_words", len(hist),
	)
	return nil
}

// Reweight recomputes TF-IDF weights if documents were inserted since the
// last computation. It reports whether a new generation was produced.
func (e *Engine) Reweight(ctx context.Context) bool {
	if !e.db.Dirty() {
		return false
	}
	start := time.Now()
	e.db.ComputeTfIdfWeights()
	elapsed := time.Since(start)
	stats := e.db.Stats()
	if e.metrics != nil {
		e.metrics.ReweightsTotal.Inc()
		e.metrics.ReweightDuration.Observe(elapsed.Seconds())
	}
	e.observe(stats)
	e.logger.Info("weights recomputed",
		"generation", stats.Generation,
		"documents", stats.Documents,
		"active_words", stats.ActiveWords,
		"took", elapsed,
	)
	return true
}

// Snapshot saves the database to the store if it changed since the last
// snapshot, then notifies searchers when the snapshot carries a weight
// generation they have not seen.
func (e *Engine) Snapshot(ctx context.Context) error {
	e.snapshotMu.Lock()
	defer e.snapshotMu.Unlock()

	stats := e.db.Stats()
	mark := snapshotMark{documents: stats.Documents, generation: stats.Generation}
	if mark != e.lastSnapshot {
		var buf bytes.Buffer
		if err := e.db.Save(&buf); err != nil {
			e.snapshotResult("error")
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		data := buf.Bytes()
		err := resilience.Retry(ctx, "snapshot-upload", e.uploadRetries, func() error {
			return e.store.Put(ctx, e.cfg.SnapshotName, data)
		})
		if err != nil {
			e.snapshotResult("error")
			return fmt.Errorf("storing snapshot: %w", err)
		}
		e.lastSnapshot = mark
		e.snapshotResult("ok")
		if e.metrics != nil {
			e.metrics.SnapshotBytes.Set(float64(len(data)))
		}
		e.logger.Info("snapshot written",
			"snapshot", e.cfg.SnapshotName,
			"bytes", len(data),
			"documents", stats.Documents,
			"generation", stats.Generation,
		)
	}

	if e.notifier == nil || stats.Generation <= e.lastNotified {
		return nil
	}
	event := WeightsEvent{
		Generation:  stats.Generation,
		Documents:   stats.Weighted,
		Snapshot:    e.cfg.SnapshotName,
		PublishedAt: time.Now().UTC(),
	}
	if err := e.notifier.WeightsUpdated(ctx, event); err != nil {
		return fmt.Errorf("notifying weights update: %w", err)
	}
	e.lastNotified = stats.Generation
	return nil
}

// Reload replaces the database with the latest snapshot in the store.
func (e *Engine) Reload(ctx context.Context) (voctree.Stats, error) {
	rc, err := e.store.Get(ctx, e.cfg.SnapshotName)
	if err != nil {
		return voctree.Stats{}, fmt.Errorf("fetching snapshot: %w", err)
	}
	defer rc.Close()
	if err := e.db.Load(rc); err != nil {
		return voctree.Stats{}, err
	}
	stats := e.db.Stats()
	e.observe(stats)
	e.logger.Info("database reloaded",
		"documents", stats.Documents,
		"generation", stats.Generation,
	)
	return stats, nil
}

// Stats reports the database counters.
func (e *Engine) Stats() voctree.Stats {
	return e.db.Stats()
}

// StartMaintenanceLoop reweights and snapshots on the configured intervals.
// When ctx is cancelled it performs a final reweight and snapshot before
// returning through the done channel.
func (e *Engine) StartMaintenanceLoop(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	reweight := time.NewTicker(e.cfg.ReweightInterval)
	snap := time.NewTicker(e.cfg.SnapshotInterval)
	go func() {
		defer close(done)
		defer reweight.Stop()
		defer snap.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("maintenance loop stopping, writing final snapshot")
				e.Reweight(context.Background())
				err := resilience.WithTimeout(context.Background(), 30*time.Second, "final-snapshot", e.Snapshot)
				if err != nil {
					e.logger.Error("final snapshot failed", "error", err)
				}
				return
			case <-reweight.C:
				if e.Reweight(ctx) {
					if err := e.Snapshot(ctx); err != nil {
						e.logger.Error("snapshot after reweight failed", "error", err)
					}
				}
			case <-snap.C:
				if err := e.Snapshot(ctx); err != nil {
					e.logger.Error("periodic snapshot failed", "error", err)
				}
			}
		}
	}()
	return done
}

func (e *Engine) count(status string) {
	if e.metrics != nil {
		e.metrics.DocumentsInsertedTotal.WithLabelValues(status).Inc()
		if status == "inserted" {
			e.metrics.DatabaseDocuments.Inc()
			e.metrics.DatabaseUnweighted.Inc()
		}
	}
}

func (e *Engine) snapshotResult(status string) {
	if e.metrics != nil {
		e.metrics.SnapshotsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) observe(stats voctree.Stats) {
	if e.metrics == nil {
		return
	}
	e.metrics.DatabaseDocuments.Set(float64(stats.Documents))
	e.metrics.DatabaseUnweighted.Set(float64(stats.Unweighted))
	e.metrics.DatabaseGeneration.Set(float64(stats.Generation))
}
