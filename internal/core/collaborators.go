package core

import (
	"context"
)

// Filter is an equality filter on record attributes. A nil value matches
// records where the attribute is unset.
type Filter map[string]any

// SaveOptions suppress side effects of a save or delete.
type SaveOptions struct {
	SkipHistory       bool
	SkipNotifications bool
	Silent            bool
}

// RecordStore persists generic records.
type RecordStore interface {
	// Get returns a live record or ErrNotFound.
	Get(ctx context.Context, entityType, id string) (*Record, error)
	// Find returns at most limit live records matching every filter entry.
	Find(ctx context.Context, entityType string, filter Filter, limit int) ([]*Record, error)
	// Save inserts a new record, assigning an ID when empty, or updates a
	// persisted one. Inserting an ID that is already live fails.
	Save(ctx context.Context, rec *Record, opts SaveOptions) error
	// Delete soft-deletes a record.
	Delete(ctx context.Context, entityType, id string, opts SaveOptions) error
	// Purge permanently removes a soft-deleted record. Live records and
	// unknown IDs are left alone.
	Purge(ctx context.Context, entityType, id string) error
}

// PermissionChecker evaluates access rules for a principal.
type PermissionChecker interface {
	CanRead(ctx context.Context, p Principal, entityType string, rec *Record) bool
	CanEdit(ctx context.Context, p Principal, entityType string, rec *Record) bool
	CanCreate(ctx context.Context, p Principal, entityType string) bool
	CanDelete(ctx context.Context, p Principal, entityType string, rec *Record) bool
	// ForbiddenAttributes lists attributes the principal may not touch with action.
	ForbiddenAttributes(ctx context.Context, p Principal, entityType, action string) []string
}

// SchemaProvider describes entity types.
type SchemaProvider interface {
	Entity(entityType string) (*EntityDef, error)
}

// BlobStore holds uploaded file contents.
type BlobStore interface {
	GetContents(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, name string, contents []byte) (string, error)
}

// JobQueue dispatches idle-mode runs to a background worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job IdleJob) error
}

// RunRepository persists runs and their outcome log.
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRunsByStatus returns the runs in status, oldest first.
	ListRunsByStatus(ctx context.Context, status RunStatus) ([]*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	// DeleteRun removes the run and its outcome log.
	DeleteRun(ctx context.Context, id string) error
	// RecordRow appends the outcome and advances the run checkpoint to
	// outcome.RowIndex in one atomic step.
	RecordRow(ctx context.Context, outcome RowOutcome) error
	ListOutcomes(ctx context.Context, runID string, kind OutcomeKind) ([]RowOutcome, error)
	CountOutcomes(ctx context.Context, runID string) (OutcomeCounts, error)
	// SetDuplicateFlag updates one outcome or returns ErrNotFound.
	SetDuplicateFlag(ctx context.Context, runID, entityType, recordID string, duplicate bool) error
}

// PrincipalDirectory resolves principals by ID.
type PrincipalDirectory interface {
	LookupPrincipal(ctx context.Context, id string) (Principal, error)
}
