package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "find", "req-1")
	_, cacheSpan := StartChildSpan(ctx, "cache")
	cacheSpan.SetAttr("hit", false)
	cacheSpan.End()
	_, exec := StartChildSpan(ctx, "execute")
	exec.End()
	root.End()

	assert.Same(t, root, SpanFromContext(ctx))
	require.Len(t, root.Children, 2)
	assert.Equal(t, "req-1", root.Children[0].TraceID)
	assert.Equal(t, false, root.Children[0].Attrs["hit"])
	assert.GreaterOrEqual(t, root.Duration, exec.Duration)
}

func TestStartChildSpan_NoParent(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Same(t, span, SpanFromContext(ctx))
	assert.Nil(t, SpanFromContext(context.Background()))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, root := StartSpan(context.Background(), "pairs", "req-2")
	_, child := StartChildSpan(ctx, "execute")
	child.End()
	root.End()
	root.Log(logger)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=pairs")
	assert.Contains(t, lines[0], "depth=0")
	assert.Contains(t, lines[1], "span=execute")
	assert.Contains(t, lines[1], "trace_id=req-2")
}
