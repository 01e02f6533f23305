// Package voctree implements the inverted-file database behind vocabulary-tree
// image retrieval. Documents are sparse histograms of visual words; the
// database keeps per-word posting lists, derives TF-IDF weights on demand and
// ranks indexed documents against a query histogram.
package voctree

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
)

// DocID identifies an indexed document. IDs are assigned by the caller.
type DocID uint32

// Posting records how often a word occurs in one document.
type Posting struct {
	DocID DocID  `json:"doc_id"`
	Count uint32 `json:"count"`
}

// PostingList is ordered by ascending DocID.
type PostingList []Posting

// Stats describes the current database contents.
type Stats struct {
	WordSpace   uint32 `json:"word_space"`
	Documents   uint64 `json:"documents"`
	Weighted    uint64 `json:"weighted"`
	Unweighted  uint64 `json:"unweighted"`
	Postings    int64  `json:"postings"`
	ActiveWords int    `json:"active_words"`
	Generation  uint64 `json:"generation"`
}

// Option configures a Database.
type Option func(*Database)

// WithCompression selects the codec used by Save.
func WithCompression(c Compression) Option {
	return func(db *Database) {
		db.compression = c
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(db *Database) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// Database is the inverted index plus its derived TF-IDF weights. Insert,
// ComputeTfIdfWeights and Load are exclusive; Find and Save run under a
// shared lock.
type Database struct {
	mu           sync.RWMutex
	initialized  bool
	wordSpace    uint32
	postings     []PostingList
	docs         *roaring.Bitmap
	postingCount int64
	activeWords  int
	dirty        bool

	weights     atomic.Pointer[weightTable]
	compression Compression
	logger      *slog.Logger
}

// New creates an empty database over words [0, wordSpace).
func New(wordSpace uint32, opts ...Option) *Database {
	db := NewEmpty(opts...)
	db.resetLocked(wordSpace)
	db.initialized = true
	return db
}

// NewEmpty creates a database that can only be used as a Load target.
func NewEmpty(opts ...Option) *Database {
	db := &Database{
		docs:   roaring.New(),
		logger: logger.WithComponent("voctree"),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

func (db *Database) resetLocked(wordSpace uint32) {
	db.wordSpace = wordSpace
	db.postings = make([]PostingList, wordSpace)
	db.docs = roaring.New()
	db.postingCount = 0
	db.activeWords = 0
	db.dirty = false
	db.weights.Store(nil)
}

// Histogram builds the sparse histogram of words, rejecting any word outside
// the vocabulary.
func (db *Database) Histogram(words []Word) (SparseHistogram, error) {
	db.mu.RLock()
	wordSpace, initialized := db.wordSpace, db.initialized
	db.mu.RUnlock()
	if !initialized {
		return nil, apperrors.ErrNotInitialized
	}
	for _, w := range words {
		if uint32(w) >= wordSpace {
			return nil, &WordError{Word: w, WordSpace: wordSpace}
		}
	}
	return ComputeSparseHistogram(words), nil
}

// Insert adds a document. It fails with ErrDuplicateDocument if id is already
// present and with ErrInvalidWord if the histogram names a word outside the
// vocabulary; in both cases the index is left unchanged. The document does
// not take part in scoring until ComputeTfIdfWeights runs again.
func (db *Database) Insert(id DocID, hist SparseHistogram) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.initialized {
		return apperrors.ErrNotInitialized
	}
	if db.docs.Contains(uint32(id)) {
		return fmt.Errorf("%w: %d", apperrors.ErrDuplicateDocument, id)
	}
	if err := hist.Validate(db.wordSpace); err != nil {
		return fmt.Errorf("document %d: %w", id, err)
	}
	for _, wc := range hist {
		list := db.postings[wc.Word]
		if len(list) == 0 {
			db.activeWords++
		}
		db.postings[wc.Word] = insertPosting(list, Posting{DocID: id, Count: wc.Count})
	}
	db.docs.Add(uint32(id))
	db.postingCount += int64(len(hist))
	db.dirty = true
	return nil
}

// insertPosting keeps the list ordered by DocID. Ascending insertion, the
// common case, is a plain append.
func insertPosting(list PostingList, p Posting) PostingList {
	n := len(list)
	if n == 0 || list[n-1].DocID < p.DocID {
		return append(list, p)
	}
	i := sort.Search(n, func(i int) bool { return list[i].DocID > p.DocID })
	list = append(list, Posting{})
	copy(list[i+1:], list[i:])
	list[i] = p
	return list
}

// Size returns the number of indexed documents.
func (db *Database) Size() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.docs.GetCardinality()
}

// WordSpace returns the vocabulary size fixed at construction.
func (db *Database) WordSpace() uint32 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.wordSpace
}

// Contains reports whether id has been inserted.
func (db *Database) Contains(id DocID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.docs.Contains(uint32(id))
}

// Initialized reports whether the database has a vocabulary, either from New
// or from a successful Load.
func (db *Database) Initialized() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.initialized
}

// Dirty reports whether documents were inserted since the last weighting.
func (db *Database) Dirty() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.dirty
}

// Postings returns a copy of the posting list of w.
func (db *Database) Postings(w Word) PostingList {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if uint32(w) >= db.wordSpace {
		return nil
	}
	return append(PostingList(nil), db.postings[w]...)
}

// Stats returns a point-in-time summary.
func (db *Database) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s := Stats{
		WordSpace:   db.wordSpace,
		Documents:   db.docs.GetCardinality(),
		Postings:    db.postingCount,
		ActiveWords: db.activeWords,
	}
	if w := db.weights.Load(); w != nil {
		s.Weighted = w.docCount
		s.Generation = w.generation
	}
	s.Unweighted = s.Documents - s.Weighted
	return s
}
