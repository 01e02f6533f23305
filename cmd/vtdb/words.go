package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
)

// readDocuments parses a words file: one document per line, "ID W1 W2 ...".
// Blank lines and lines starting with '#' are skipped.
func readDocuments(r io.Reader) ([]executor.PairQuery, error) {
	var docs []executor.PairQuery
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid document id %q", line, fields[0])
		}
		words, err := parseWords(fields[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, executor.PairQuery{ID: voctree.DocID(id), Words: words})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading words file: %w", err)
	}
	return docs, nil
}

// parseWords converts word IDs, accepting either separate fields or a single
// comma or space separated list.
func parseWords(fields []string) ([]voctree.Word, error) {
	words := make([]voctree.Word, 0, len(fields))
	for _, f := range fields {
		for _, part := range strings.FieldsFunc(f, func(r rune) bool { return r == ',' || r == ' ' }) {
			w, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid word %q", part)
			}
			words = append(words, voctree.Word(w))
		}
	}
	return words, nil
}

// wordSpaceFor returns the vocabulary size for docs: requested when non-zero,
// otherwise one past the largest word. Sizes a saved database could not be
// loaded with are rejected.
func wordSpaceFor(docs []executor.PairQuery, requested uint64) (uint32, error) {
	space := requested
	if space == 0 {
		for _, d := range docs {
			for _, w := range d.Words {
				space = max(space, uint64(w)+1)
			}
		}
	}
	if space == 0 {
		return 0, fmt.Errorf("no words in input and no -word-space given")
	}
	if space > uint64(voctree.MaxWordSpace) {
		return 0, fmt.Errorf("word space %d exceeds the maximum of %d", space, voctree.MaxWordSpace)
	}
	return uint32(space), nil
}
