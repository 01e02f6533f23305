package main

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
)

func TestReadDocuments(t *testing.T) {
	input := `# id words
1 4 4 9

7 1
3
`
	docs, err := readDocuments(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, voctree.DocID(1), docs[0].ID)
	assert.Equal(t, []voctree.Word{4, 4, 9}, docs[0].Words)
	assert.Equal(t, voctree.DocID(7), docs[1].ID)
	assert.Empty(t, docs[2].Words)
}

func TestReadDocuments_Errors(t *testing.T) {
	_, err := readDocuments(strings.NewReader("x 1 2\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = readDocuments(strings.NewReader("1 2\n2 -3\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestParseWords(t *testing.T) {
	words, err := parseWords([]string{"1,2", "3"})
	require.NoError(t, err)
	assert.Equal(t, []voctree.Word{1, 2, 3}, words)

	words, err = parseWords([]string{"5 6"})
	require.NoError(t, err)
	assert.Equal(t, []voctree.Word{5, 6}, words)

	_, err = parseWords([]string{"1,a"})
	assert.Error(t, err)
}

func TestWordSpaceFor(t *testing.T) {
	docs := []executor.PairQuery{
		{ID: 1, Words: []voctree.Word{3, 9}},
		{ID: 2, Words: []voctree.Word{41}},
	}
	space, err := wordSpaceFor(docs, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), space)

	space, err = wordSpaceFor(docs, 100)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), space)

	_, err = wordSpaceFor(nil, 0)
	assert.ErrorContains(t, err, "no words")

	huge := []executor.PairQuery{{ID: 1, Words: []voctree.Word{math.MaxUint32}}}
	_, err = wordSpaceFor(huge, 0)
	assert.ErrorContains(t, err, "exceeds the maximum")

	_, err = wordSpaceFor(docs, math.MaxUint32+1)
	assert.ErrorContains(t, err, "exceeds the maximum")
}
