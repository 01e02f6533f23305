package voctree

import (
	"fmt"
	"slices"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
)

// Word is the integer ID of a quantized visual-word cluster.
type Word uint32

// WordCount is a single histogram bin.
type WordCount struct {
	Word  Word   `json:"word"`
	Count uint32 `json:"count"`
}

// SparseHistogram holds the non-zero bins of a document's word histogram,
// sorted by ascending Word with each word present at most once.
type SparseHistogram []WordCount

// WordError reports a word outside the configured vocabulary.
type WordError struct {
	Word      Word
	WordSpace uint32
}

func (e *WordError) Error() string {
	return fmt.Sprintf("%s: word %d not in [0, %d)", apperrors.ErrInvalidWord, e.Word, e.WordSpace)
}

func (e *WordError) Unwrap() error { return apperrors.ErrInvalidWord }

// ComputeSparseHistogram counts word occurrences. The result does not depend
// on the order of words.
func ComputeSparseHistogram(words []Word) SparseHistogram {
	if len(words) == 0 {
		return SparseHistogram{}
	}
	sorted := slices.Clone(words)
	slices.Sort(sorted)
	hist := make(SparseHistogram, 0, len(sorted))
	for _, w := range sorted {
		if n := len(hist); n > 0 && hist[n-1].Word == w {
			hist[n-1].Count++
			continue
		}
		hist = append(hist, WordCount{Word: w, Count: 1})
	}
	return hist
}

// Validate checks that the histogram is sorted, free of duplicates and zero
// counts, and that every word lies in [0, wordSpace).
func (h SparseHistogram) Validate(wordSpace uint32) error {
	for i, wc := range h {
		if uint32(wc.Word) >= wordSpace {
			return &WordError{Word: wc.Word, WordSpace: wordSpace}
		}
		if wc.Count == 0 {
			return fmt.Errorf("%w: zero count for word %d", apperrors.ErrInvalidInput, wc.Word)
		}
		if i > 0 && h[i-1].Word >= wc.Word {
			return fmt.Errorf("%w: histogram not strictly ordered at word %d", apperrors.ErrInvalidInput, wc.Word)
		}
	}
	return nil
}
