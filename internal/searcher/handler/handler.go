// Package handler serves the searcher HTTP API: find, pair generation,
// database statistics and cache administration.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/tracing"
)

const maxBodyBytes = 64 << 20

type Searcher interface {
	Find(ctx context.Context, query voctree.SparseHistogram, topK int, method voctree.ScoringMethod) (*executor.FindResult, error)
	Pairs(ctx context.Context, queries []executor.PairQuery, opts executor.PairOptions) ([]executor.Pair, error)
	Generation() uint64
}

type StatsProvider interface {
	Stats() voctree.Stats
}

// FindRequest is the body of POST /api/v1/find. Empty Scoring and zero TopK
// take the configured defaults.
type FindRequest struct {
	Words   []voctree.Word `json:"words"`
	TopK    int            `json:"top_k"`
	Scoring string         `json:"scoring"`
}

type FindResponse struct {
	*executor.FindResult
	CacheHit bool  `json:"cache_hit"`
	TookMs   int64 `json:"took_ms"`
}

// PairsRequest is the body of POST /api/v1/pairs.
type PairsRequest struct {
	Images    []executor.PairQuery `json:"images"`
	Neighbors int                  `json:"neighbors"`
	Scoring   string               `json:"scoring"`
	MaxScore  float64              `json:"max_score"`
}

type PairsResponse struct {
	Pairs []executor.Pair `json:"pairs"`
	Count int             `json:"count"`
}

type Handler struct {
	searcher Searcher
	stats    StatsProvider
	cache    *cache.QueryCache
	cfg      config.SearchConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Handler. queryCache and m may be nil.
func New(searcher Searcher, stats StatsProvider, queryCache *cache.QueryCache, cfg config.SearchConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		searcher: searcher,
		stats:    stats,
		cache:    queryCache,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.WithComponent("search-handler"),
	}
}

// Routes registers the searcher endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/find", h.Find)
	mux.HandleFunc("POST /api/v1/pairs", h.Pairs)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health", h.Health)
}

func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "find", middleware.GetRequestID(r))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Log(log)
	}()

	var req FindRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	topK, err := h.topK(req.TopK)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	method, err := h.scoring(req.Scoring)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := voctree.ComputeSparseHistogram(req.Words)
	span.SetAttr("query_words", len(query))
	span.SetAttr("top_k", topK)

	var (
		result   *executor.FindResult
		cacheHit bool
	)
	compute := func() (*executor.FindResult, error) {
		_, execSpan := tracing.StartChildSpan(ctx, "execute")
		defer execSpan.End()
		return h.searcher.Find(ctx, query, topK, method)
	}
	cacheStatus := "disabled"
	if h.cache != nil {
		key := cache.Key{Query: query, TopK: topK, Method: method, Generation: h.searcher.Generation()}
		result, cacheHit, err = h.cache.GetOrCompute(ctx, key, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = compute()
	}
	if err != nil {
		h.writeAppError(w, log, "find failed", err)
		return
	}

	took := time.Since(start)
	if h.metrics != nil {
		h.metrics.FindLatency.WithLabelValues(cacheStatus).Observe(took.Seconds())
	}
	span.SetAttr("cache", cacheStatus)
	log.Info("find completed",
		"query_words", len(query),
		"top_k", topK,
		"scoring", method,
		"returned", len(result.Matches),
		"generation", result.Generation,
		"cache", cacheStatus,
		"latency_ms", took.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, FindResponse{
		FindResult: result,
		CacheHit:   cacheHit,
		TookMs:     took.Milliseconds(),
	})
}

// Pairs runs every submitted image against the database and returns the
// candidate pairs. With ?format=list the response is the plain-text pair
// list instead of JSON.
func (h *Handler) Pairs(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "pairs", middleware.GetRequestID(r))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Log(log)
	}()

	var req PairsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if h.cfg.MaxPairQueries > 0 && len(req.Images) > h.cfg.MaxPairQueries {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d images per request", h.cfg.MaxPairQueries))
		return
	}
	neighbors, err := h.topK(req.Neighbors)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "neighbors must not be negative")
		return
	}
	method, err := h.scoring(req.Scoring)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttr("images", len(req.Images))

	pairs, err := h.searcher.Pairs(ctx, req.Images, executor.PairOptions{
		Neighbors:   neighbors,
		Method:      method,
		Concurrency: h.cfg.PairConcurrency,
		MaxScore:    req.MaxScore,
	})
	if err != nil {
		h.writeAppError(w, log, "pair generation failed", err)
		return
	}
	log.Info("pairs completed", "images", len(req.Images), "neighbors", neighbors, "pairs", len(pairs))

	if r.URL.Query().Get("format") == "list" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := executor.WritePairList(w, pairs); err != nil {
			h.logger.Error("failed to write pair list", "error", err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, PairsResponse{Pairs: pairs, Count: len(pairs)})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.stats.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// topK applies the configured default and ceiling.
func (h *Handler) topK(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("top_k must not be negative")
	case requested == 0:
		return h.cfg.DefaultTopK, nil
	case h.cfg.MaxTopK > 0 && requested > h.cfg.MaxTopK:
		return h.cfg.MaxTopK, nil
	}
	return requested, nil
}

func (h *Handler) scoring(name string) (voctree.ScoringMethod, error) {
	if name == "" {
		name = h.cfg.DefaultScoring
	}
	return voctree.ParseScoringMethod(name)
}

func (h *Handler) writeAppError(w http.ResponseWriter, log *slog.Logger, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err)
		h.writeError(w, status, msg)
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
