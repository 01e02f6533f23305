package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBuild_RefusesOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(in, []byte("1 0 1 2\n2 2 3\n"), 0o644))
	out := filepath.Join(dir, "images.vtdb")
	ctx := context.Background()

	require.NoError(t, runBuild(ctx, []string{"-in", in, "-out", out}))
	first, err := os.ReadFile(out)
	require.NoError(t, err)

	err = runBuild(ctx, []string{"-in", in, "-out", out, "-compression", "none"})
	assert.ErrorContains(t, err, "already exists")
	unchanged, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, first, unchanged)

	require.NoError(t, runBuild(ctx, []string{"-in", in, "-out", out, "-force"}))
	db, _, err := openDatabase(out)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), db.Size())
	assert.Equal(t, uint32(4), db.WordSpace())
}
