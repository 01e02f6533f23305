package voctree

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
)

func TestFind_SequentialDocumentsSelfMatch(t *testing.T) {
	docs := sequentialDocuments()
	db := buildDatabase(t, docs)

	for i, words := range docs {
		matches, err := db.FindWords(words, 1, ScoringClassic)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, DocID(i), matches[0].ID)
		assert.InDelta(t, 0, matches[0].Score, 0.001)
	}
}

func TestFind_SelfMatchRanksFirstWithSharedWords(t *testing.T) {
	db := New(32)
	corpus := map[DocID][]Word{
		1: {0, 1, 2, 3, 3, 4},
		2: {0, 1, 5, 6},
		3: {2, 3, 7, 8, 8, 8},
		4: {0, 9, 10, 11},
		5: {1, 2, 3, 4, 12},
	}
	for id, words := range corpus {
		require.NoError(t, db.Insert(id, ComputeSparseHistogram(words)))
	}
	db.ComputeTfIdfWeights()

	for _, method := range []ScoringMethod{ScoringClassic, ScoringCosine} {
		for id, words := range corpus {
			t.Run(fmt.Sprintf("%s/%d", method, id), func(t *testing.T) {
				matches, err := db.FindWords(words, 3, method)
				require.NoError(t, err)
				require.NotEmpty(t, matches)
				assert.Equal(t, id, matches[0].ID)
				assert.InDelta(t, 0, matches[0].Score, 1e-9)
			})
		}
	}
}

func TestFind_ClassicScoreMatchesDenseL1(t *testing.T) {
	db := New(16)
	require.NoError(t, db.Insert(1, ComputeSparseHistogram([]Word{0, 1, 1, 2})))
	require.NoError(t, db.Insert(2, ComputeSparseHistogram([]Word{1, 3, 4})))
	require.NoError(t, db.Insert(3, ComputeSparseHistogram([]Word{5})))
	db.ComputeTfIdfWeights()

	query := ComputeSparseHistogram([]Word{1, 2, 3, 3})
	matches, err := db.Find(query, 2, ScoringClassic)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	dense := func(h SparseHistogram) []float64 {
		v := make([]float64, 16)
		var sum float64
		for _, wc := range h {
			v[wc.Word] = float64(wc.Count) * db.IDF(wc.Word)
			sum += v[wc.Word]
		}
		for i := range v {
			v[i] /= sum
		}
		return v
	}
	q := dense(query)
	for _, m := range matches {
		var hist SparseHistogram
		switch m.ID {
		case 1:
			hist = ComputeSparseHistogram([]Word{0, 1, 1, 2})
		case 2:
			hist = ComputeSparseHistogram([]Word{1, 3, 4})
		}
		d := dense(hist)
		var want float64
		for i := range q {
			diff := q[i] - d[i]
			if diff < 0 {
				diff = -diff
			}
			want += diff
		}
		assert.InDelta(t, want, m.Score, 1e-9, "document %d", m.ID)
	}
}

func TestFind_TopKBoundAndOrdering(t *testing.T) {
	db := buildDatabase(t, sequentialDocuments())
	query := append(append([]Word{}, sequentialDocuments()[2][:6]...), sequentialDocuments()[7][:3]...)

	for _, k := range []int{0, 1, 3, cardDocuments, cardDocuments + 5} {
		matches, err := db.FindWords(query, k, ScoringClassic)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(matches), min(k, int(db.Size())))
		assert.True(t, sort.SliceIsSorted(matches, func(i, j int) bool {
			return better(matches[i], matches[j])
		}))
	}
}

func TestFind_TopKLargerThanCorpusReturnsAll(t *testing.T) {
	db := buildDatabase(t, sequentialDocuments())
	matches, err := db.FindWords(sequentialDocuments()[5], 50, ScoringClassic)
	require.NoError(t, err)
	require.Len(t, matches, cardDocuments)
	assert.Equal(t, DocID(5), matches[0].ID)

	// Documents sharing no word tie at the maximum distance and follow by ID.
	for i, m := range matches[1:] {
		assert.Equal(t, 2.0, m.Score)
		if i > 0 {
			assert.Less(t, matches[i].ID, m.ID)
		}
	}
}

func TestFind_ZeroNormDocumentsStayRanked(t *testing.T) {
	db := New(16)
	require.NoError(t, db.Insert(1, ComputeSparseHistogram([]Word{0, 1})))
	require.NoError(t, db.Insert(2, ComputeSparseHistogram([]Word{0, 1, 5})))
	require.NoError(t, db.Insert(3, ComputeSparseHistogram([]Word{0, 1, 7})))
	db.ComputeTfIdfWeights()

	tests := []struct {
		name   string
		words  []Word
		method ScoringMethod
		want   []DocID
		scores []float64
	}{
		{"own words classic", []Word{0, 1}, ScoringClassic, []DocID{1, 2, 3}, []float64{0, 2, 2}},
		{"own words cosine", []Word{0, 1}, ScoringCosine, []DocID{1, 2, 3}, []float64{0, 1, 1}},
		{"padded behind touched", []Word{5}, ScoringClassic, []DocID{2, 1, 3}, []float64{0, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := db.FindWords(tt.words, 10, tt.method)
			require.NoError(t, err)
			require.Len(t, matches, len(tt.want))
			for i, m := range matches {
				assert.Equal(t, tt.want[i], m.ID)
				assert.InDelta(t, tt.scores[i], m.Score, 1e-9)
			}
		})
	}

	matches, err := db.FindWords([]Word{0, 1}, 1, ScoringClassic)
	require.NoError(t, err)
	assert.Equal(t, []DocMatch{{ID: 1, Score: 0}}, matches)
}

func TestFind_SingleDocumentDatabase(t *testing.T) {
	db := New(8)
	require.NoError(t, db.Insert(7, ComputeSparseHistogram([]Word{1, 2, 2})))
	db.ComputeTfIdfWeights()

	for _, method := range []ScoringMethod{ScoringClassic, ScoringCosine} {
		matches, err := db.FindWords([]Word{1, 2, 2}, 5, method)
		require.NoError(t, err)
		assert.Equal(t, []DocMatch{{ID: 7, Score: 0}}, matches, method.String())
	}
}

func TestFind_EmptyDocumentPadded(t *testing.T) {
	db := New(8)
	require.NoError(t, db.Insert(1, ComputeSparseHistogram([]Word{1})))
	require.NoError(t, db.Insert(2, ComputeSparseHistogram([]Word{2})))
	require.NoError(t, db.Insert(3, SparseHistogram{}))
	db.ComputeTfIdfWeights()

	matches, err := db.FindWords([]Word{1}, 5, ScoringClassic)
	require.NoError(t, err)
	assert.Equal(t, []DocMatch{{ID: 1, Score: 0}, {ID: 2, Score: 2}, {ID: 3, Score: 2}}, matches)
}

func TestFindWithGeneration(t *testing.T) {
	db := New(8)
	_, generation, err := db.FindWithGeneration(ComputeSparseHistogram([]Word{1}), 1, ScoringClassic)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), generation)

	require.NoError(t, db.Insert(1, ComputeSparseHistogram([]Word{1})))
	require.NoError(t, db.Insert(2, ComputeSparseHistogram([]Word{2})))
	db.ComputeTfIdfWeights()
	db.ComputeTfIdfWeights()

	matches, generation, err := db.FindWithGeneration(ComputeSparseHistogram([]Word{1}), 1, ScoringClassic)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), generation)
	assert.Equal(t, []DocMatch{{ID: 1, Score: 0}}, matches)
}

func TestFind_TiesBrokenByDocID(t *testing.T) {
	db := New(8)
	for _, id := range []DocID{9, 4, 6} {
		require.NoError(t, db.Insert(id, ComputeSparseHistogram([]Word{1, 2})))
	}
	require.NoError(t, db.Insert(1, ComputeSparseHistogram([]Word{3})))
	db.ComputeTfIdfWeights()

	matches, err := db.FindWords([]Word{1, 2}, 3, ScoringClassic)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []DocID{4, 6, 9}, []DocID{matches[0].ID, matches[1].ID, matches[2].ID})
}

func TestFind_EdgeCases(t *testing.T) {
	t.Run("empty database", func(t *testing.T) {
		db := New(8)
		db.ComputeTfIdfWeights()
		matches, err := db.FindWords([]Word{1}, 5, ScoringClassic)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
	t.Run("weights never computed", func(t *testing.T) {
		db := New(8)
		require.NoError(t, db.Insert(1, ComputeSparseHistogram([]Word{1})))
		matches, err := db.FindWords([]Word{1}, 5, ScoringClassic)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
	t.Run("empty query", func(t *testing.T) {
		db := buildDatabase(t, sequentialDocuments())
		matches, err := db.FindWords(nil, 5, ScoringClassic)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
	t.Run("query of unknown words", func(t *testing.T) {
		db := New(200)
		require.NoError(t, db.Insert(1, ComputeSparseHistogram([]Word{1, 2})))
		require.NoError(t, db.Insert(2, ComputeSparseHistogram([]Word{3})))
		db.ComputeTfIdfWeights()
		matches, err := db.FindWords([]Word{150, 151}, 5, ScoringClassic)
		require.NoError(t, err)
		assert.Equal(t, []DocMatch{{ID: 1, Score: 2}, {ID: 2, Score: 2}}, matches)
	})
	t.Run("out of range query word", func(t *testing.T) {
		db := buildDatabase(t, sequentialDocuments())
		_, err := db.FindWords([]Word{cardDocuments * cardWords}, 5, ScoringClassic)
		assert.ErrorIs(t, err, apperrors.ErrInvalidWord)
	})
	t.Run("invalid method", func(t *testing.T) {
		db := buildDatabase(t, sequentialDocuments())
		_, err := db.FindWords(sequentialDocuments()[0], 5, ScoringMethod(42))
		assert.ErrorIs(t, err, apperrors.ErrInvalidScoringMethod)
	})
}

func TestParseScoringMethod(t *testing.T) {
	m, err := ParseScoringMethod("classic")
	require.NoError(t, err)
	assert.Equal(t, ScoringClassic, m)

	m, err = ParseScoringMethod(" Cosine ")
	require.NoError(t, err)
	assert.Equal(t, ScoringCosine, m)

	_, err = ParseScoringMethod("bm25")
	assert.ErrorIs(t, err, apperrors.ErrInvalidScoringMethod)
}

func TestFind_RankingStableUnderCorpusGrowth(t *testing.T) {
	docs := sequentialDocuments()
	db := buildDatabase(t, docs)
	query := append(append([]Word{}, docs[1][:8]...), docs[6][:4]...)

	before, err := db.FindWords(query, 2, ScoringClassic)
	require.NoError(t, err)
	require.Len(t, before, 2)

	wordSpace := db.WordSpace()
	grown := New(wordSpace + 64)
	for i, words := range docs {
		require.NoError(t, grown.Insert(DocID(i), ComputeSparseHistogram(words)))
	}
	for i := 0; i < 20; i++ {
		unrelated := []Word{Word(wordSpace) + Word(i%64), Word(wordSpace) + Word((i*7)%64)}
		require.NoError(t, grown.Insert(DocID(500+i), ComputeSparseHistogram(unrelated)))
	}
	grown.ComputeTfIdfWeights()

	after, err := grown.FindWords(query, 2, ScoringClassic)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[1].ID, after[1].ID)
}

func BenchmarkFind(b *testing.B) {
	const (
		numDocs   = 5000
		wordSpace = 20000
		perDoc    = 200
	)
	db := New(wordSpace)
	docs := make([][]Word, numDocs)
	for i := range docs {
		docs[i] = make([]Word, perDoc)
		for j := range docs[i] {
			docs[i][j] = Word((i*131 + j*977) % wordSpace)
		}
		if err := db.Insert(DocID(i), ComputeSparseHistogram(docs[i])); err != nil {
			b.Fatal(err)
		}
	}
	db.ComputeTfIdfWeights()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.FindWords(docs[i%numDocs], 10, ScoringClassic); err != nil {
			b.Fatal(err)
		}
	}
}
