// Package executor runs queries against the vocabulary-tree database: single
// Find requests and batched pair generation for image matching.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/metrics"
)

// FindResult is the answer to one query.
type FindResult struct {
	Matches    []voctree.DocMatch    `json:"matches"`
	Scoring    voctree.ScoringMethod `json:"scoring"`
	TopK       int                   `json:"top_k"`
	Generation uint64                `json:"generation"`
	QueryWords int                   `json:"query_words"`
}

type Executor struct {
	db      *voctree.Database
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Executor over db. m may be nil.
func New(db *voctree.Database, m *metrics.Metrics) *Executor {
	return &Executor{
		db:      db,
		metrics: m,
		logger:  logger.WithComponent("executor"),
	}
}

// Generation returns the weight generation queries currently run against.
func (e *Executor) Generation() uint64 {
	return e.db.Generation()
}

// Find scores query against the database and returns at most topK matches,
// best first.
func (e *Executor) Find(ctx context.Context, query voctree.SparseHistogram, topK int, method voctree.ScoringMethod) (*FindResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	matches, generation, err := e.db.FindWithGeneration(query, topK, method)
	e.observe(method, len(matches), err)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("find executed",
		"query_words", len(query),
		"top_k", topK,
		"scoring", method,
		"matches", len(matches),
		"took", time.Since(start),
	)
	return &FindResult{
		Matches:    matches,
		Scoring:    method,
		TopK:       topK,
		Generation: generation,
		QueryWords: len(query),
	}, nil
}

func (e *Executor) observe(method voctree.ScoringMethod, n int, err error) {
	if e.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		result = "cancelled"
	case err != nil:
		result = "error"
	case n == 0:
		result = "empty"
	}
	e.metrics.FindQueriesTotal.WithLabelValues(method.String(), result).Inc()
	if err == nil {
		e.metrics.FindResultsCount.Observe(float64(n))
	}
}
