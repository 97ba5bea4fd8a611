package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// History actions written to record_history.
const (
	historyCreate = "create"
	historyUpdate = "update"
	historyDelete = "delete"
)

// RecordStore implements core.RecordStore on the records table. Attributes
// live in a JSONB column so every entity type shares one table.
type RecordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore returns a store backed by pool.
func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

// Get returns a live record or core.ErrNotFound.
func (s *RecordStore) Get(ctx context.Context, entityType, id string) (*core.Record, error) {
	rec := &core.Record{Type: entityType, ID: id, Persisted: true}
	err := s.pool.QueryRow(ctx,
		`SELECT attrs, created_at FROM records WHERE entity_type = $1 AND id = $2 AND NOT deleted`,
		entityType, id,
	).Scan(&rec.Attrs, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", entityType, id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s %s: %w", entityType, id, err)
	}
	if rec.Attrs == nil {
		rec.Attrs = make(map[string]any)
	}
	return rec, nil
}

// Find returns live records matching every filter entry, oldest first.
// A limit of zero or less returns all matches.
func (s *RecordStore) Find(ctx context.Context, entityType string, filter core.Filter, limit int) ([]*core.Record, error) {
	where, args, err := filterClause(filter, 2)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, attrs, created_at FROM records WHERE entity_type = $1 AND NOT deleted" + where +
		" ORDER BY created_at, id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, append([]any{entityType}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []*core.Record
	for rows.Next() {
		rec := &core.Record{Type: entityType, Persisted: true}
		if err := rows.Scan(&rec.ID, &rec.Attrs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entityType, err)
		}
		if rec.Attrs == nil {
			rec.Attrs = make(map[string]any)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", entityType, err)
	}
	return out, nil
}

// filterClause turns an equality filter into " AND ..." conditions whose
// placeholders start at $start. Keys are sorted so the SQL is stable.
func filterClause(filter core.Filter, start int) (string, []any, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		b    strings.Builder
		args []any
		n    = start
	)
	for _, k := range keys {
		v := filter[k]

		if k == "id" {
			if v == nil {
				b.WriteString(" AND FALSE")
				continue
			}
			fmt.Fprintf(&b, " AND id = $%d", n)
			args = append(args, fmt.Sprint(v))
			n++
			continue
		}

		if v == nil {
			fmt.Fprintf(&b, " AND (attrs->>$%d IS NULL OR attrs->>$%d = '')", n, n)
			args = append(args, k)
			n++
			continue
		}

		doc, err := json.Marshal(map[string]any{k: v})
		if err != nil {
			return "", nil, fmt.Errorf("encode filter %s: %w", k, err)
		}
		fmt.Fprintf(&b, " AND attrs @> $%d::jsonb", n)
		args = append(args, string(doc))
		n++
	}
	return b.String(), args, nil
}

// Save inserts a new record or updates a persisted one.
func (s *RecordStore) Save(ctx context.Context, rec *core.Record, opts core.SaveOptions) error {
	attrs, err := json.Marshal(nonNil(rec.Attrs))
	if err != nil {
		return fmt.Errorf("encode %s attributes: %w", rec.Type, err)
	}

	if rec.IsNew() {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		var createdAt time.Time
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			err := tx.QueryRow(ctx,
				`INSERT INTO records (entity_type, id, attrs) VALUES ($1, $2, $3::jsonb) RETURNING created_at`,
				rec.Type, rec.ID, string(attrs),
			).Scan(&createdAt)
			if err != nil {
				return err
			}
			if opts.SkipHistory {
				return nil
			}
			return writeHistory(ctx, tx, rec.Type, rec.ID, historyCreate, attrs)
		})
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert %s: duplicate key %s", rec.Type, rec.ID)
			}
			return fmt.Errorf("insert %s: %w", rec.Type, err)
		}
		rec.CreatedAt = createdAt
		rec.Persisted = true
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE records SET attrs = $3::jsonb, updated_at = now()
			 WHERE entity_type = $1 AND id = $2 AND NOT deleted`,
			rec.Type, rec.ID, string(attrs),
		)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", rec.Type, rec.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update %s %s: %w", rec.Type, rec.ID, core.ErrNotFound)
		}
		if opts.SkipHistory {
			return nil
		}
		return writeHistory(ctx, tx, rec.Type, rec.ID, historyUpdate, attrs)
	})
}

// Delete soft-deletes a live record.
func (s *RecordStore) Delete(ctx context.Context, entityType, id string, opts core.SaveOptions) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE records SET deleted = TRUE, updated_at = now()
			 WHERE entity_type = $1 AND id = $2 AND NOT deleted`,
			entityType, id,
		)
		if err != nil {
			return fmt.Errorf("delete %s %s: %w", entityType, id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("delete %s %s: %w", entityType, id, core.ErrNotFound)
		}
		if opts.SkipHistory {
			return nil
		}
		return writeHistory(ctx, tx, entityType, id, historyDelete, nil)
	})
}

// Purge removes a soft-deleted record for good. Live records are untouched.
func (s *RecordStore) Purge(ctx context.Context, entityType, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE entity_type = $1 AND id = $2 AND deleted`,
		entityType, id,
	)
	if err != nil {
		return fmt.Errorf("purge %s %s: %w", entityType, id, err)
	}
	return nil
}

func writeHistory(ctx context.Context, db DBTX, entityType, id, action string, attrs []byte) error {
	var doc any
	if attrs != nil {
		doc = string(attrs)
	}
	_, err := db.Exec(ctx,
		`INSERT INTO record_history (entity_type, record_id, action, attrs) VALUES ($1, $2, $3, $4::jsonb)`,
		entityType, id, action, doc,
	)
	if err != nil {
		return fmt.Errorf("write history for %s %s: %w", entityType, id, err)
	}
	return nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// PruneHistory deletes history entries older than retention and returns
// how many were removed.
func (s *RecordStore) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM record_history WHERE created_at < $1`,
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("prune record history: %w", err)
	}
	return tag.RowsAffected(), nil
}
