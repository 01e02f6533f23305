package voctree

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
)

// DocMatch is one ranked result.
type DocMatch struct {
	ID    DocID   `json:"id"`
	Score float64 `json:"score"`
}

// better orders matches best first: lower score, then lower ID.
func better(a, b DocMatch) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID < b.ID
}

type queryTerm struct {
	word   Word
	weight float64
}

// FindWords builds the histogram of words and calls Find.
func (db *Database) FindWords(words []Word, topK int, method ScoringMethod) ([]DocMatch, error) {
	hist, err := db.Histogram(words)
	if err != nil {
		return nil, err
	}
	return db.Find(hist, topK, method)
}

// Find ranks weighted documents against query and returns at most topK
// matches, best first. Only posting lists of words carrying a non-zero query
// weight are visited. When fewer than topK documents share a word with the
// query, the remaining weighted documents are appended at the method's
// maximum distance in ascending ID order.
func (db *Database) Find(query SparseHistogram, topK int, method ScoringMethod) ([]DocMatch, error) {
	matches, _, err := db.FindWithGeneration(query, topK, method)
	return matches, err
}

// FindWithGeneration is Find that also reports the generation of the weights
// the matches were scored against, 0 when none were computed.
func (db *Database) FindWithGeneration(query SparseHistogram, topK int, method ScoringMethod) ([]DocMatch, uint64, error) {
	if !method.Valid() {
		return nil, 0, fmt.Errorf("%w: %d", apperrors.ErrInvalidScoringMethod, uint8(method))
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.initialized {
		return nil, 0, apperrors.ErrNotInitialized
	}
	if err := query.Validate(db.wordSpace); err != nil {
		return nil, 0, err
	}
	table := db.weights.Load()
	if table == nil {
		return []DocMatch{}, 0, nil
	}
	if topK <= 0 || len(query) == 0 || table.docCount == 0 {
		return []DocMatch{}, table.generation, nil
	}

	terms := make([]queryTerm, 0, len(query))
	var qL1, qL2 float64
	for _, wc := range query {
		idf := table.idf[wc.Word]
		if idf == 0 {
			continue
		}
		v := float64(wc.Count) * idf
		qL1 += v
		qL2 += v * v
		terms = append(terms, queryTerm{word: wc.Word, weight: v})
	}
	if qL1 == 0 {
		return matchZeroQuery(table, topK, method.maxDistance()), table.generation, nil
	}
	qL2 = math.Sqrt(qL2)

	acc := db.accumulate(table, terms, qL1, method)
	h := make(matchHeap, 0, min(topK, len(acc)))
	for id, overlap := range acc {
		dn := table.norms[id]
		m := DocMatch{ID: id, Score: finalScore(method, overlap, qL2, dn)}
		if len(h) < topK {
			heap.Push(&h, m)
			continue
		}
		if better(m, h[0]) {
			h[0] = m
			heap.Fix(&h, 0)
		}
	}
	result := make([]DocMatch, len(h))
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(DocMatch)
	}
	if len(result) < topK {
		result = appendUntouched(result, table, acc, topK, method.maxDistance())
	}
	return result, table.generation, nil
}

// accumulate collects, per touched document, the overlap term of the chosen
// method: sum of min(q̂, d̂) for classic, the raw dot product for cosine. The
// map is scratch owned by this call.
func (db *Database) accumulate(table *weightTable, terms []queryTerm, qL1 float64, method ScoringMethod) map[DocID]float64 {
	acc := make(map[DocID]float64)
	for _, t := range terms {
		idf := table.idf[t.word]
		qHat := t.weight / qL1
		for _, p := range db.postings[t.word] {
			dn, ok := table.norms[p.DocID]
			if !ok {
				continue
			}
			v := float64(p.Count) * idf
			switch method {
			case ScoringClassic:
				acc[p.DocID] += math.Min(qHat, v/dn.l1)
			case ScoringCosine:
				acc[p.DocID] += t.weight * v
			}
		}
	}
	return acc
}

func finalScore(method ScoringMethod, overlap, qL2 float64, dn docNorm) float64 {
	var s float64
	switch method {
	case ScoringClassic:
		// sum|a-b| = sum a + sum b - 2 sum min(a,b), both sums being 1.
		s = 2 - 2*overlap
	case ScoringCosine:
		s = 1 - overlap/(qL2*dn.l2)
	}
	return math.Max(0, s)
}

func appendUntouched(result []DocMatch, table *weightTable, acc map[DocID]float64, topK int, score float64) []DocMatch {
	it := table.covered.Iterator()
	for it.HasNext() && len(result) < topK {
		id := DocID(it.Next())
		if _, touched := acc[id]; touched {
			continue
		}
		result = append(result, DocMatch{ID: id, Score: score})
	}
	sort.SliceStable(result, func(i, j int) bool { return better(result[i], result[j]) })
	return result
}

// matchZeroQuery ranks a query whose weighted vector is zero. It is identical
// to every zero-norm document and maximally distant from the rest.
func matchZeroQuery(table *weightTable, topK int, score float64) []DocMatch {
	result := make([]DocMatch, 0, min(uint64(topK), table.docCount))
	it := roaring.AndNot(table.covered, table.scorable).Iterator()
	for it.HasNext() && len(result) < topK {
		result = append(result, DocMatch{ID: DocID(it.Next())})
	}
	it = table.scorable.Iterator()
	for it.HasNext() && len(result) < topK {
		result = append(result, DocMatch{ID: DocID(it.Next()), Score: score})
	}
	return result
}

// matchHeap keeps the worst retained match at the root.
type matchHeap []DocMatch

func (h matchHeap) Len() int { return len(h) }

func (h matchHeap) Less(i, j int) bool { return better(h[j], h[i]) }

func (h matchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *matchHeap) Push(x interface{}) {
	*h = append(*h, x.(DocMatch))
}

func (h *matchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
