// Package cache stores find results in Redis, keyed by the query histogram,
// topK, scoring method and the weight generation the result was computed
// against. A reweight therefore never serves stale rankings; Invalidate only
// reclaims space.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/redis"
)

const keyPrefix = "find:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cacheable find.
type Key struct {
	Query      voctree.SparseHistogram
	TopK       int
	Method     voctree.ScoringMethod
	Generation uint64
}

// String returns the Redis key for k.
func (k Key) String() string {
	h := sha256.New()
	var buf [8]byte
	for _, wc := range k.Query {
		binary.LittleEndian.PutUint32(buf[:4], uint32(wc.Word))
		binary.LittleEndian.PutUint32(buf[4:], wc.Count)
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(k.TopK))
	h.Write(buf[:])
	h.Write([]byte{byte(k.Method)})
	binary.LittleEndian.PutUint64(buf[:], k.Generation)
	h.Write(buf[:])
	sum := h.Sum(nil)
	return keyPrefix + hex.EncodeToString(sum[:16])
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, key Key) (*executor.FindResult, bool) {
	k := key.String()
	data, err := c.backend.Get(ctx, k)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", k, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.FindResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "key", k)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, result *executor.FindResult) {
	k := key.String()
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.backend.Set(ctx, k, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached result for key, or runs compute once per
// key across concurrent callers and caches its result. The bool reports a
// cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key Key,
	compute func() (*executor.FindResult, error),
) (*executor.FindResult, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		// A reload may have landed since key was built; store under the
		// generation actually scored.
		stored := key
		stored.Generation = result.Generation
		c.Set(ctx, stored, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.FindResult), false, nil
}

// Invalidate removes every cached find result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
