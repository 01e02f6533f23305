// Package snapshot stores serialized vocabulary-tree databases. The indexer
// writes snapshots and searchers read them back, either from a local
// directory or from an S3-compatible bucket.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/config"
)

// ErrNotFound is returned by Get when no snapshot exists under the name.
var ErrNotFound = errors.New("snapshot not found")

// Store persists named snapshot blobs. Put replaces any previous blob with
// the same name atomically: readers see either the old or the new snapshot.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	Ping(ctx context.Context) error
}

func isMissing(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Open builds the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.SnapshotConfig) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.Dir)
	case "minio":
		return NewMinIOStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}
