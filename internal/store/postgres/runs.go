package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// RunRepository implements core.RunRepository on import_runs and
// import_outcomes.
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository returns a repository backed by pool.
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

const runColumns = `id, entity_type, mapping, options, status, last_index, attachment_id, created_by_id, created_at, updated_at`

// CreateRun inserts a run. CreatedAt and UpdatedAt are set from the database.
func (r *RunRepository) CreateRun(ctx context.Context, run *core.Run) error {
	mapping, options, err := encodeRun(run)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO import_runs (id, entity_type, mapping, options, status, last_index, attachment_id, created_by_id)
		 VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		run.ID, run.EntityType, mapping, options, string(run.Status), run.LastIndex, run.AttachmentID, run.CreatedByID,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create import run: duplicate key %s", run.ID)
		}
		return fmt.Errorf("create import run: %w", err)
	}
	return nil
}

// GetRun returns a run or core.ErrNotFound.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM import_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("get import run: %w", err)
	}
	return run, nil
}

// ListRunsByStatus returns the runs in status, oldest first.
func (r *RunRepository) ListRunsByStatus(ctx context.Context, status core.RunStatus) ([]*core.Run, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+runColumns+` FROM import_runs WHERE status = $1 ORDER BY created_at, id`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var out []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	return out, nil
}

// UpdateRun stores the run's status, mapping, options and attachment. The
// checkpoint only moves through RecordRow.
func (r *RunRepository) UpdateRun(ctx context.Context, run *core.Run) error {
	mapping, options, err := encodeRun(run)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`UPDATE import_runs
		 SET entity_type = $2, mapping = $3::jsonb, options = $4::jsonb, status = $5, attachment_id = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		run.ID, run.EntityType, mapping, options, string(run.Status), run.AttachmentID,
	).Scan(&run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrNotFound
		}
		return fmt.Errorf("update import run: %w", err)
	}
	return nil
}

// DeleteRun removes the run. Its outcomes go with it through the foreign key.
func (r *RunRepository) DeleteRun(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM import_runs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete import run: %w", err)
	}
	return nil
}

// RecordRow appends an outcome and advances the checkpoint in one
// transaction.
func (r *RunRepository) RecordRow(ctx context.Context, o core.RowOutcome) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE import_runs
			 SET last_index = GREATEST(COALESCE(last_index, -1), $2), updated_at = now()
			 WHERE id = $1`,
			o.RunID, o.RowIndex,
		)
		if err != nil {
			return fmt.Errorf("advance checkpoint: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("import run %s: %w", o.RunID, core.ErrNotFound)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO import_outcomes (run_id, entity_type, record_id, row_index, is_imported, is_updated, is_duplicate)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.RunID, o.EntityType, o.RecordID, o.RowIndex, o.Created, o.Updated, o.Duplicate,
		)
		if err != nil {
			return fmt.Errorf("record row outcome: %w", err)
		}
		return nil
	})
}

// outcomeCondition selects outcomes of a kind.
func outcomeCondition(kind core.OutcomeKind) string {
	switch kind {
	case core.OutcomeImported:
		return " AND is_imported"
	case core.OutcomeUpdated:
		return " AND is_updated"
	case core.OutcomeDuplicates:
		return " AND is_duplicate"
	default:
		return ""
	}
}

// ListOutcomes returns the outcomes of a run in row order.
func (r *RunRepository) ListOutcomes(ctx context.Context, runID string, kind core.OutcomeKind) ([]core.RowOutcome, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT run_id, entity_type, record_id, row_index, is_imported, is_updated, is_duplicate
		 FROM import_outcomes WHERE run_id = $1`+outcomeCondition(kind)+`
		 ORDER BY row_index, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []core.RowOutcome
	for rows.Next() {
		var o core.RowOutcome
		if err := rows.Scan(&o.RunID, &o.EntityType, &o.RecordID, &o.RowIndex, &o.Created, &o.Updated, &o.Duplicate); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	return out, nil
}

// CountOutcomes aggregates the outcome flags of a run.
func (r *RunRepository) CountOutcomes(ctx context.Context, runID string) (core.OutcomeCounts, error) {
	var c core.OutcomeCounts
	err := r.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE is_imported),
		   COUNT(*) FILTER (WHERE is_updated),
		   COUNT(*) FILTER (WHERE is_duplicate)
		 FROM import_outcomes WHERE run_id = $1`,
		runID,
	).Scan(&c.Imported, &c.Updated, &c.Duplicates)
	if err != nil {
		return core.OutcomeCounts{}, fmt.Errorf("count outcomes: %w", err)
	}
	return c, nil
}

// SetDuplicateFlag updates the duplicate flag of one record's outcome.
func (r *RunRepository) SetDuplicateFlag(ctx context.Context, runID, entityType, recordID string, duplicate bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE import_outcomes SET is_duplicate = $4
		 WHERE run_id = $1 AND entity_type = $2 AND record_id = $3`,
		runID, entityType, recordID, duplicate,
	)
	if err != nil {
		return fmt.Errorf("set duplicate flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outcome for %s %s: %w", entityType, recordID, core.ErrNotFound)
	}
	return nil
}

func encodeRun(run *core.Run) (mapping, options string, err error) {
	m := run.Mapping
	if m == nil {
		m = []string{}
	}
	mb, err := json.Marshal(m)
	if err != nil {
		return "", "", fmt.Errorf("encode mapping: %w", err)
	}
	ob, err := json.Marshal(run.Options)
	if err != nil {
		return "", "", fmt.Errorf("encode options: %w", err)
	}
	return string(mb), string(ob), nil
}

func scanRun(row pgx.Row) (*core.Run, error) {
	var (
		run     core.Run
		status  string
		mapping []byte
		options []byte
	)
	err := row.Scan(&run.ID, &run.EntityType, &mapping, &options, &status, &run.LastIndex,
		&run.AttachmentID, &run.CreatedByID, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = core.RunStatus(status)
	if err := json.Unmarshal(mapping, &run.Mapping); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if err := json.Unmarshal(options, &run.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return &run, nil
}
