package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// AttachmentStore implements core.BlobStore on the attachments table.
type AttachmentStore struct {
	pool *pgxpool.Pool
}

// NewAttachmentStore returns a blob store backed by pool.
func NewAttachmentStore(pool *pgxpool.Pool) *AttachmentStore {
	return &AttachmentStore{pool: pool}
}

// Put stores contents and returns the attachment ID.
func (s *AttachmentStore) Put(ctx context.Context, name string, contents []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attachments (id, name, mime_type, contents) VALUES ($1, $2, $3, $4)`,
		id, name, mimetype.Detect(contents).String(), contents,
	)
	if err != nil {
		return "", fmt.Errorf("store attachment %s: %w", name, err)
	}
	return id, nil
}

// GetContents returns the stored bytes or core.ErrNotFound.
func (s *AttachmentStore) GetContents(ctx context.Context, ref string) ([]byte, error) {
	var contents []byte
	err := s.pool.QueryRow(ctx, `SELECT contents FROM attachments WHERE id = $1`, ref).Scan(&contents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("attachment %s: %w", ref, core.ErrNotFound)
		}
		return nil, fmt.Errorf("get attachment %s: %w", ref, err)
	}
	return contents, nil
}
