package voctree

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
)

const (
	cardDocuments = 10
	cardWords     = 12
)

// sequentialDocuments returns documents where document i holds the words
// [cardWords*i, cardWords*i+cardWords-1].
func sequentialDocuments() [][]Word {
	docs := make([][]Word, cardDocuments)
	for i := range docs {
		docs[i] = make([]Word, cardWords)
		for j := range docs[i] {
			docs[i][j] = Word(cardWords*i + j)
		}
	}
	return docs
}

func buildDatabase(t testing.TB, docs [][]Word, opts ...Option) *Database {
	t.Helper()
	db := New(uint32(cardDocuments*cardWords), opts...)
	for i, words := range docs {
		require.NoError(t, db.Insert(DocID(i), ComputeSparseHistogram(words)))
	}
	db.ComputeTfIdfWeights()
	return db
}

func TestComputeSparseHistogram(t *testing.T) {
	tests := []struct {
		name  string
		words []Word
		want  SparseHistogram
	}{
		{"empty", nil, SparseHistogram{}},
		{"single", []Word{4}, SparseHistogram{{Word: 4, Count: 1}}},
		{"duplicates", []Word{3, 1, 3, 3, 1}, SparseHistogram{{Word: 1, Count: 2}, {Word: 3, Count: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeSparseHistogram(tt.words))
		})
	}
}

func TestComputeSparseHistogram_OrderIndependent(t *testing.T) {
	a := ComputeSparseHistogram([]Word{9, 2, 2, 7, 0})
	b := ComputeSparseHistogram([]Word{0, 2, 7, 9, 2})
	assert.Equal(t, a, b)
}

func TestComputeSparseHistogram_DoesNotMutateInput(t *testing.T) {
	words := []Word{5, 1, 3}
	ComputeSparseHistogram(words)
	assert.Equal(t, []Word{5, 1, 3}, words)
}

func TestHistogram_RejectsOutOfRangeWord(t *testing.T) {
	db := New(10)
	_, err := db.Histogram([]Word{1, 10})
	require.ErrorIs(t, err, apperrors.ErrInvalidWord)

	var wordErr *WordError
	require.True(t, errors.As(err, &wordErr))
	assert.Equal(t, Word(10), wordErr.Word)
}

func TestInsert_DuplicateRejected(t *testing.T) {
	db := New(16)
	require.NoError(t, db.Insert(7, ComputeSparseHistogram([]Word{1, 2})))

	err := db.Insert(7, ComputeSparseHistogram([]Word{3}))
	require.ErrorIs(t, err, apperrors.ErrDuplicateDocument)
	assert.Equal(t, uint64(1), db.Size())
	assert.Empty(t, db.Postings(3))
}

func TestInsert_InvalidWordLeavesIndexUntouched(t *testing.T) {
	db := New(16)
	err := db.Insert(1, SparseHistogram{{Word: 2, Count: 1}, {Word: 16, Count: 1}})
	require.ErrorIs(t, err, apperrors.ErrInvalidWord)
	assert.Equal(t, uint64(0), db.Size())
	assert.Empty(t, db.Postings(2))
	assert.False(t, db.Contains(1))
}

func TestInsert_PostingListsOrderedByDocID(t *testing.T) {
	db := New(4)
	for _, id := range []DocID{5, 1, 9, 3} {
		require.NoError(t, db.Insert(id, ComputeSparseHistogram([]Word{2, 2})))
	}
	assert.Equal(t, PostingList{
		{DocID: 1, Count: 2},
		{DocID: 3, Count: 2},
		{DocID: 5, Count: 2},
		{DocID: 9, Count: 2},
	}, db.Postings(2))
	assert.Equal(t, uint64(4), db.Size())
}

func TestInsert_EmptyHistogramCountsAsDocument(t *testing.T) {
	db := New(4)
	require.NoError(t, db.Insert(1, SparseHistogram{}))
	assert.Equal(t, uint64(1), db.Size())
	assert.Equal(t, int64(0), db.Stats().Postings)
}

func TestNewEmpty_RequiresLoad(t *testing.T) {
	db := NewEmpty()
	assert.False(t, db.Initialized())
	assert.ErrorIs(t, db.Insert(1, SparseHistogram{}), apperrors.ErrNotInitialized)
	_, err := db.Find(SparseHistogram{{Word: 0, Count: 1}}, 1, ScoringClassic)
	assert.ErrorIs(t, err, apperrors.ErrNotInitialized)
}

func TestComputeTfIdfWeights_IDF(t *testing.T) {
	db := New(8)
	require.NoError(t, db.Insert(0, ComputeSparseHistogram([]Word{0, 1})))
	require.NoError(t, db.Insert(1, ComputeSparseHistogram([]Word{0, 2})))
	require.NoError(t, db.Insert(2, ComputeSparseHistogram([]Word{0, 2, 3})))
	db.ComputeTfIdfWeights()

	assert.InDelta(t, 0.0, db.IDF(0), 1e-12)
	assert.InDelta(t, 1.0986122886681098, db.IDF(1), 1e-12)
	assert.InDelta(t, 0.4054651081081644, db.IDF(2), 1e-12)
	assert.Equal(t, 0.0, db.IDF(7))
}

func TestComputeTfIdfWeights_Idempotent(t *testing.T) {
	db := buildDatabase(t, sequentialDocuments())
	first, err := db.FindWords(sequentialDocuments()[4], 3, ScoringClassic)
	require.NoError(t, err)

	db.ComputeTfIdfWeights()
	second, err := db.FindWords(sequentialDocuments()[4], 3, ScoringClassic)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(2), db.Generation())
}

func TestInsertAfterWeighting_ExcludedUntilRecomputed(t *testing.T) {
	db := buildDatabase(t, sequentialDocuments())
	require.NoError(t, db.Insert(100, ComputeSparseHistogram([]Word{0, 1, 2, 3})))
	assert.True(t, db.Dirty())
	assert.Equal(t, uint64(1), db.Stats().Unweighted)

	matches, err := db.FindWords([]Word{0, 1, 2, 3}, cardDocuments+1, ScoringClassic)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, DocID(100), m.ID)
	}

	db.ComputeTfIdfWeights()
	assert.False(t, db.Dirty())
	matches, err = db.FindWords([]Word{0, 1, 2, 3}, 1, ScoringClassic)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, DocID(100), matches[0].ID)
	assert.InDelta(t, 0, matches[0].Score, 1e-9)
}

func TestConcurrentFindAndInsert(t *testing.T) {
	db := buildDatabase(t, sequentialDocuments())
	docs := sequentialDocuments()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := db.FindWords(docs[(g+i)%cardDocuments], 2, ScoringClassic)
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			assert.NoError(t, db.Insert(DocID(1000+i), ComputeSparseHistogram([]Word{Word(i)})))
			if i%5 == 0 {
				db.ComputeTfIdfWeights()
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, uint64(cardDocuments+20), db.Size())
}
