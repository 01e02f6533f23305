// Package registry records every submitted document in PostgreSQL and
// tracks it from PENDING through INDEXED or FAILED.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/postgres"
)

// Status is the lifecycle state of a registered document.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusIndexed Status = "INDEXED"
	StatusFailed  Status = "FAILED"
)

// Document is one row of the documents table.
type Document struct {
	ID        uint32     `json:"document_id"`
	ImagePath string     `json:"image_path"`
	WordCount int        `json:"word_count"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	IndexedAt *time.Time `json:"indexed_at,omitempty"`
}

type Registry struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Registry {
	return &Registry{
		db:     db,
		logger: logger.WithComponent("registry"),
	}
}

// Register inserts doc as PENDING. An ID that is already registered fails
// with ErrDuplicateDocument.
func (r *Registry) Register(ctx context.Context, doc Document) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO documents (id, image_path, word_count, status)
		VALUES ($1, $2, $3, 'PENDING')
		ON CONFLICT (id) DO NOTHING
		RETURNING id`, int64(doc.ID), doc.ImagePath, doc.WordCount).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.Newf(apperrors.ErrDuplicateDocument, 409, "document %d is already registered", doc.ID)
		}
		if err != nil {
			return fmt.Errorf("inserting document %d: %w", doc.ID, err)
		}
		return nil
	})
}

// Remove deletes a registration that never made it onto the ingest topic.
func (r *Registry) Remove(ctx context.Context, id uint32) error {
	_, err := r.db.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND status = 'PENDING'`, int64(id))
	if err != nil {
		return fmt.Errorf("removing document %d: %w", id, err)
	}
	return nil
}

// UpdateStatus moves a document to status, recording reason for failures.
func (r *Registry) UpdateStatus(ctx context.Context, id uint32, status Status, reason string) error {
	_, err := r.db.DB.ExecContext(ctx,
		`UPDATE documents SET status = $1, error = NULLIF($2, ''), indexed_at = NOW() WHERE id = $3`,
		string(status), reason, int64(id),
	)
	if err != nil {
		return fmt.Errorf("updating document %d to %s: %w", id, status, err)
	}
	return nil
}

// Get returns the registration for id or ErrDocumentNotFound.
func (r *Registry) Get(ctx context.Context, id uint32) (*Document, error) {
	var (
		doc       Document
		rawID     int64
		status    string
		reason    sql.NullString
		indexedAt sql.NullTime
	)
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT id, image_path, word_count, status, error, created_at, indexed_at
		FROM documents WHERE id = $1`, int64(id),
	).Scan(&rawID, &doc.ImagePath, &doc.WordCount, &status, &reason, &doc.CreatedAt, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %d: %w", id, err)
	}
	doc.ID = uint32(rawID)
	doc.Status = Status(status)
	doc.Error = reason.String
	if indexedAt.Valid {
		doc.IndexedAt = &indexedAt.Time
	}
	return &doc, nil
}

// CountByStatus returns how many documents are in each state.
func (r *Registry) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := r.db.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning document count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
