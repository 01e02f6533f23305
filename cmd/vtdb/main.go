// Command vtdb builds and queries vocabulary-tree database files offline.
//
// Usage:
//
//	vtdb build  -in words.txt -out images.vtdb [-word-space N] [-compression zstd] [-force]
//	vtdb query  -db images.vtdb [-k 10] [-scoring classic] W1 W2 ...
//	vtdb pairs  -db images.vtdb -in words.txt [-k 10] [-out pairs.txt]
//	vtdb stats  -db images.vtdb
//
// A words file holds one image per line: "ID W1 W2 ...".
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
)

func main() {
	logger.SetupWriter(os.Stderr, envOr("VT_LOGGING_LEVEL", "warn"), "text")
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(ctx, os.Args[2:])
	case "query":
		err = runQuery(ctx, os.Args[2:])
	case "pairs":
		err = runPairs(ctx, os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "vtdb %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vtdb <build|query|pairs|stats> [flags]")
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	in := fs.String("in", "-", "words file, - for stdin")
	out := fs.String("out", "", "database file to write")
	wordSpace := fs.Uint64("word-space", 0, "vocabulary size; 0 derives it from the largest word")
	compression := fs.String("compression", "zstd", "payload compression: none, zstd or lz4")
	force := fs.Bool("force", false, "overwrite an existing database file")
	fs.Parse(args)
	if *out == "" {
		return fmt.Errorf("-out is required")
	}
	codec, err := voctree.ParseCompression(*compression)
	if err != nil {
		return err
	}

	docs, err := readDocumentsFrom(*in)
	if err != nil {
		return err
	}
	space, err := wordSpaceFor(docs, *wordSpace)
	if err != nil {
		return err
	}

	store, err := snapshot.NewLocalStore(filepath.Dir(*out))
	if err != nil {
		return err
	}
	exists, err := store.Exists(ctx, filepath.Base(*out))
	if err != nil {
		return err
	}
	if exists && !*force {
		return fmt.Errorf("%s already exists, pass -force to overwrite", *out)
	}

	start := time.Now()
	db := voctree.New(space, voctree.WithCompression(codec))
	for _, d := range docs {
		hist, err := db.Histogram(d.Words)
		if err != nil {
			return fmt.Errorf("image %d: %w", d.ID, err)
		}
		if err := db.Insert(d.ID, hist); err != nil {
			return fmt.Errorf("image %d: %w", d.ID, err)
		}
	}
	db.ComputeTfIdfWeights()

	var buf bytes.Buffer
	if err := db.Save(&buf); err != nil {
		return err
	}
	if err := store.Put(ctx, filepath.Base(*out), buf.Bytes()); err != nil {
		return err
	}

	stats := db.Stats()
	fmt.Printf("built %s: %s images, %s postings, %s on disk in %s\n",
		*out,
		humanize.Comma(int64(stats.Documents)),
		humanize.Comma(stats.Postings),
		humanize.Bytes(uint64(buf.Len())),
		time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	path := fs.String("db", "", "database file")
	k := fs.Int("k", 10, "number of matches")
	scoring := fs.String("scoring", "classic", "scoring method: classic or cosine")
	fs.Parse(args)

	method, err := voctree.ParseScoringMethod(*scoring)
	if err != nil {
		return err
	}
	words, err := parseWords(fs.Args())
	if err != nil {
		return err
	}
	db, _, err := openDatabase(*path)
	if err != nil {
		return err
	}
	hist, err := db.Histogram(words)
	if err != nil {
		return err
	}
	res, err := executor.New(db, nil).Find(ctx, hist, *k, method)
	if err != nil {
		return err
	}
	for i, m := range res.Matches {
		fmt.Printf("%d\t%d\t%.6f\n", i+1, m.ID, m.Score)
	}
	return nil
}

func runPairs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pairs", flag.ExitOnError)
	path := fs.String("db", "", "database file")
	in := fs.String("in", "-", "words file of query images, - for stdin")
	out := fs.String("out", "-", "pair list file, - for stdout")
	k := fs.Int("k", 10, "neighbors kept per image")
	scoring := fs.String("scoring", "classic", "scoring method: classic or cosine")
	maxScore := fs.Float64("max-score", 0, "drop pairs scoring above this; 0 keeps all")
	concurrency := fs.Int("concurrency", 8, "parallel queries")
	fs.Parse(args)

	method, err := voctree.ParseScoringMethod(*scoring)
	if err != nil {
		return err
	}
	db, _, err := openDatabase(*path)
	if err != nil {
		return err
	}
	queries, err := readDocumentsFrom(*in)
	if err != nil {
		return err
	}
	pairs, err := executor.New(db, nil).Pairs(ctx, queries, executor.PairOptions{
		Neighbors:   *k,
		Method:      method,
		Concurrency: *concurrency,
		MaxScore:    *maxScore,
	})
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := executor.WritePairList(w, pairs); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s pairs from %s images\n",
		humanize.Comma(int64(len(pairs))), humanize.Comma(int64(len(queries))))
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	path := fs.String("db", "", "database file")
	fs.Parse(args)

	db, size, err := openDatabase(*path)
	if err != nil {
		return err
	}
	s := db.Stats()
	fmt.Printf("file:          %s (%s)\n", *path, humanize.Bytes(uint64(size)))
	fmt.Printf("word space:    %s\n", humanize.Comma(int64(s.WordSpace)))
	fmt.Printf("active words:  %s\n", humanize.Comma(int64(s.ActiveWords)))
	fmt.Printf("images:        %s (%s weighted, %s pending)\n",
		humanize.Comma(int64(s.Documents)),
		humanize.Comma(int64(s.Weighted)),
		humanize.Comma(int64(s.Unweighted)))
	fmt.Printf("postings:      %s\n", humanize.Comma(s.Postings))
	fmt.Printf("generation:    %d\n", s.Generation)
	return nil
}

func openDatabase(path string) (*voctree.Database, int64, error) {
	if path == "" {
		return nil, 0, fmt.Errorf("-db is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	db := voctree.NewEmpty(voctree.WithLogger(slog.Default()))
	if err := db.Load(f); err != nil {
		return nil, 0, fmt.Errorf("loading %s: %w", path, err)
	}
	return db, info.Size(), nil
}

func readDocumentsFrom(path string) ([]executor.PairQuery, error) {
	if path == "-" {
		return readDocuments(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readDocuments(f)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
