package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
)

// PairQuery is one image offered for pair generation, usually a document
// that is itself in the database.
type PairQuery struct {
	ID    voctree.DocID  `json:"id"`
	Words []voctree.Word `json:"words"`
}

// Pair is a candidate image pair with A < B and the best score seen for it.
type Pair struct {
	A     voctree.DocID `json:"a"`
	B     voctree.DocID `json:"b"`
	Score float64       `json:"score"`
}

// PairOptions controls pair generation.
type PairOptions struct {
	// Neighbors is the number of best matches kept per query, not counting
	// the query itself.
	Neighbors   int
	Method      voctree.ScoringMethod
	Concurrency int
	// MaxScore drops pairs scoring worse than it. Zero keeps everything.
	MaxScore float64
}

// Pairs queries every image against the database and returns the
// de-duplicated set of candidate pairs, best score first. A query never
// pairs with itself.
func (e *Executor) Pairs(ctx context.Context, queries []PairQuery, opts PairOptions) ([]Pair, error) {
	if !opts.Method.Valid() {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrInvalidScoringMethod, opts.Method)
	}
	if opts.Neighbors <= 0 || len(queries) == 0 {
		return []Pair{}, nil
	}

	results := make([][]voctree.DocMatch, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, q := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hist, err := e.db.Histogram(q.Words)
			if err != nil {
				return fmt.Errorf("image %d: %w", q.ID, err)
			}
			// One extra slot absorbs the self-match.
			res, err := e.Find(gctx, hist, opts.Neighbors+1, opts.Method)
			if err != nil {
				return fmt.Errorf("image %d: %w", q.ID, err)
			}
			results[i] = res.Matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := make(map[[2]voctree.DocID]float64)
	for i, q := range queries {
		kept := 0
		for _, m := range results[i] {
			if m.ID == q.ID {
				continue
			}
			if kept == opts.Neighbors {
				break
			}
			kept++
			if opts.MaxScore > 0 && m.Score > opts.MaxScore {
				continue
			}
			key := [2]voctree.DocID{min(q.ID, m.ID), max(q.ID, m.ID)}
			if s, ok := best[key]; !ok || m.Score < s {
				best[key] = m.Score
			}
		}
	}

	pairs := make([]Pair, 0, len(best))
	for key, score := range best {
		pairs = append(pairs, Pair{A: key[0], B: key[1], Score: score})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Score != pairs[j].Score {
			return pairs[i].Score < pairs[j].Score
		}
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	if e.metrics != nil {
		e.metrics.PairsTotal.Add(float64(len(pairs)))
	}
	e.logger.Info("pairs generated",
		"queries", len(queries),
		"neighbors", opts.Neighbors,
		"pairs", len(pairs),
	)
	return pairs, nil
}

// WritePairList writes pairs in the image-matching pair list format: one line
// per image I listing every J > I it pairs with, "I J K ...", ascending.
func WritePairList(w io.Writer, pairs []Pair) error {
	adjacency := make(map[voctree.DocID][]voctree.DocID)
	for _, p := range pairs {
		adjacency[p.A] = append(adjacency[p.A], p.B)
	}
	firsts := make([]voctree.DocID, 0, len(adjacency))
	for a := range adjacency {
		firsts = append(firsts, a)
	}
	sort.Slice(firsts, func(i, j int) bool { return firsts[i] < firsts[j] })

	bw := bufio.NewWriter(w)
	for _, a := range firsts {
		bs := adjacency[a]
		sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
		bw.WriteString(strconv.FormatUint(uint64(a), 10))
		for _, b := range bs {
			bw.WriteByte(' ')
			bw.WriteString(strconv.FormatUint(uint64(b), 10))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
