package voctree

import (
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

type docNorm struct {
	l1 float64
	l2 float64
}

// weightTable is an immutable snapshot of the derived weights. It is
// replaced as a whole by ComputeTfIdfWeights and Load.
type weightTable struct {
	generation uint64
	// docCount is N_docs when the table was built.
	docCount uint64
	idf      []float64
	// covered holds every document the table was built over, docCount in
	// all. norms and scorable only hold those with a non-zero weighted
	// vector; the rest score as the zero vector.
	covered  *roaring.Bitmap
	norms    map[DocID]docNorm
	scorable *roaring.Bitmap
}

// ComputeTfIdfWeights recomputes idf(w) = ln(N_docs/df(w)) for every word and
// the L1 and L2 norms of every document's weighted vector. Each call replaces
// the previous weights; documents inserted since become searchable.
func (db *Database) ComputeTfIdfWeights() {
	start := time.Now()
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.initialized {
		return
	}
	table := buildWeights(db.postings, db.docs)
	if prev := db.weights.Load(); prev != nil {
		table.generation = prev.generation + 1
	} else {
		table.generation = 1
	}
	db.weights.Store(table)
	db.dirty = false
	db.logger.Debug("tf-idf weights computed",
		"documents", table.docCount,
		"zero_norm", table.docCount-uint64(len(table.norms)),
		"generation", table.generation,
		"duration", time.Since(start),
	)
}

func buildWeights(postings []PostingList, docs *roaring.Bitmap) *weightTable {
	table := &weightTable{
		docCount: docs.GetCardinality(),
		covered:  docs.Clone(),
		idf:      make([]float64, len(postings)),
		norms:    make(map[DocID]docNorm),
		scorable: roaring.New(),
	}
	if table.docCount == 0 {
		return table
	}
	n := float64(table.docCount)
	for w, list := range postings {
		df := len(list)
		if df == 0 {
			continue
		}
		idf := math.Log(n / float64(df))
		table.idf[w] = idf
		if idf == 0 {
			continue
		}
		for _, p := range list {
			v := float64(p.Count) * idf
			dn := table.norms[p.DocID]
			dn.l1 += v
			dn.l2 += v * v
			table.norms[p.DocID] = dn
		}
	}
	for id, dn := range table.norms {
		dn.l2 = math.Sqrt(dn.l2)
		table.norms[id] = dn
		table.scorable.Add(uint32(id))
	}
	return table
}

// IDF returns the current inverse document frequency of w, or 0 when weights
// have not been computed.
func (db *Database) IDF(w Word) float64 {
	table := db.weights.Load()
	if table == nil || int(w) >= len(table.idf) {
		return 0
	}
	return table.idf[w]
}

// Generation identifies the current weight snapshot; 0 means none.
func (db *Database) Generation() uint64 {
	if table := db.weights.Load(); table != nil {
		return table.generation
	}
	return 0
}
