package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/metrics"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []WeightsEvent
	err    error
}

func (n *recordingNotifier) WeightsUpdated(ctx context.Context, event WeightsEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) generations() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]uint64, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Generation)
	}
	return out
}

func testConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		WordSpaceSize:    64,
		SnapshotName:     "voctree.db",
		Compression:      "zstd",
		ReweightInterval: 10 * time.Millisecond,
		SnapshotInterval: time.Hour,
	}
}

func newTestEngine(t *testing.T, store snapshot.Store, n Notifier) (*Engine, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	e, err := NewEngine(context.Background(), testConfig(), store, n, m)
	require.NoError(t, err)
	return e, m
}

func newStore(t *testing.T) *snapshot.LocalStore {
	t.Helper()
	s, err := snapshot.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestEngine_IndexReweightSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	notifier := &recordingNotifier{}
	e, m := newTestEngine(t, store, notifier)

	require.NoError(t, e.IndexDocument(ctx, 1, []voctree.Word{1, 2, 3}))
	require.NoError(t, e.IndexDocument(ctx, 2, []voctree.Word{3, 4, 5}))
	require.NoError(t, e.IndexDocument(ctx, 3, []voctree.Word{6, 7}))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DocumentsInsertedTotal.WithLabelValues("inserted")))

	assert.True(t, e.Reweight(ctx))
	assert.False(t, e.Reweight(ctx), "clean database is not reweighted")
	require.NoError(t, e.Snapshot(ctx))
	assert.Equal(t, []uint64{1}, notifier.generations())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues("ok")))

	// Unchanged state writes nothing and announces nothing new.
	require.NoError(t, e.Snapshot(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues("ok")))
	assert.Equal(t, []uint64{1}, notifier.generations())

	restored, _ := newTestEngine(t, store, nil)
	assert.Equal(t, e.Stats(), restored.Stats())
	matches, err := restored.Database().FindWords([]voctree.Word{1, 2, 3}, 1, voctree.ScoringClassic)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, voctree.DocID(1), matches[0].ID)
}

func TestEngine_IndexDocumentErrors(t *testing.T) {
	ctx := context.Background()
	e, m := newTestEngine(t, newStore(t), nil)

	require.NoError(t, e.IndexDocument(ctx, 9, []voctree.Word{1}))
	assert.ErrorIs(t, e.IndexDocument(ctx, 9, []voctree.Word{2}), apperrors.ErrDuplicateDocument)
	assert.ErrorIs(t, e.IndexDocument(ctx, 10, []voctree.Word{64}), apperrors.ErrInvalidWord)
	assert.False(t, e.Database().Contains(10))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsInsertedTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsInsertedTotal.WithLabelValues("rejected")))
}

func TestEngine_UnweightedDocumentsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	e, _ := newTestEngine(t, store, nil)
	require.NoError(t, e.IndexDocument(ctx, 5, []voctree.Word{8, 9}))
	require.NoError(t, e.Snapshot(ctx))

	restored, _ := newTestEngine(t, store, nil)
	assert.True(t, restored.Database().Contains(5))
	assert.True(t, restored.Database().Dirty())
}

func TestEngine_WordSpaceMismatch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	e, _ := newTestEngine(t, store, nil)
	require.NoError(t, e.IndexDocument(ctx, 1, []voctree.Word{1}))
	require.NoError(t, e.Snapshot(ctx))

	cfg := testConfig()
	cfg.WordSpaceSize = 128
	_, err := NewEngine(ctx, cfg, store, nil, nil)
	assert.Error(t, err)
}

func TestEngine_CorruptSnapshotFailsStartup(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Put(ctx, "voctree.db", []byte("not a snapshot")))
	_, err := NewEngine(ctx, testConfig(), store, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrCorruptPersistedState)
}

func TestEngine_NotifyFailureRetriedOnNextSnapshot(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{err: errors.New("broker down")}
	e, _ := newTestEngine(t, newStore(t), notifier)

	require.NoError(t, e.IndexDocument(ctx, 1, []voctree.Word{1, 2}))
	e.Reweight(ctx)
	assert.Error(t, e.Snapshot(ctx))

	notifier.mu.Lock()
	notifier.err = nil
	notifier.mu.Unlock()
	require.NoError(t, e.Snapshot(ctx))
	assert.Equal(t, []uint64{1}, notifier.generations())
}

func TestReadOnlyEngine_Reload(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	cfg := testConfig()

	replica, err := NewReadOnlyEngine(ctx, cfg, store, nil)
	require.NoError(t, err)
	_, err = replica.Database().FindWords([]voctree.Word{1}, 1, voctree.ScoringClassic)
	assert.ErrorIs(t, err, apperrors.ErrNotInitialized)
	_, err = replica.Reload(ctx)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	writer, _ := newTestEngine(t, store, nil)
	require.NoError(t, writer.IndexDocument(ctx, 1, []voctree.Word{1, 2}))
	require.NoError(t, writer.IndexDocument(ctx, 2, []voctree.Word{3}))
	writer.Reweight(ctx)
	require.NoError(t, writer.Snapshot(ctx))

	stats, err := replica.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Documents)
	assert.Equal(t, uint64(1), stats.Generation)
}

func TestEngine_MaintenanceLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := newStore(t)
	notifier := &recordingNotifier{}
	e, _ := newTestEngine(t, store, notifier)

	done := e.StartMaintenanceLoop(ctx)
	require.NoError(t, e.IndexDocument(ctx, 1, []voctree.Word{1, 2}))
	require.NoError(t, e.IndexDocument(ctx, 2, []voctree.Word{2, 3}))
	assert.Eventually(t, func() bool { return len(notifier.generations()) > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.IndexDocument(context.Background(), 3, []voctree.Word{4}))
	cancel()
	<-done

	restored, _ := newTestEngine(t, store, nil)
	assert.True(t, restored.Database().Contains(3))
	assert.False(t, restored.Database().Dirty(), "shutdown reweights before the final snapshot")
}
