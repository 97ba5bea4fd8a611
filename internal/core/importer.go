package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/JonMunkholm/csvimport/internal/logging"
)

// RunEntityType is the entity type runs are checked against in the ACL.
const RunEntityType = "Import"

// RevertPurgeWindow is the age below which a reverted run's records are
// removed permanently instead of only soft-deleted.
const RevertPurgeWindow = 48 * time.Hour

// Deps are the collaborators of an Importer.
type Deps struct {
	Records    RecordStore
	Runs       RunRepository
	Schema     SchemaProvider
	ACL        PermissionChecker
	Blobs      BlobStore
	Jobs       JobQueue
	Principals PrincipalDirectory

	DefaultCurrency string
	MaxFileSize     int64            // 0 means unlimited
	Now             func() time.Time // defaults to time.Now
	Logger          *slog.Logger     // defaults to slog.Default()
}

// Importer runs, resumes and reverts CSV imports.
type Importer struct {
	records    RecordStore
	runs       RunRepository
	schema     SchemaProvider
	acl        PermissionChecker
	blobs      BlobStore
	jobs       JobQueue
	principals PrincipalDirectory

	mapper   *RowMapper
	resolver *DuplicateResolver

	maxFileSize int64
	now         func() time.Time
	logger      *slog.Logger
}

// NewImporter validates deps and returns an Importer.
func NewImporter(d Deps) (*Importer, error) {
	var missing []string
	if d.Records == nil {
		missing = append(missing, "Records")
	}
	if d.Runs == nil {
		missing = append(missing, "Runs")
	}
	if d.Schema == nil {
		missing = append(missing, "Schema")
	}
	if d.ACL == nil {
		missing = append(missing, "ACL")
	}
	if d.Blobs == nil {
		missing = append(missing, "Blobs")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("importer: missing dependencies: %v", missing)
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Importer{
		records:     d.Records,
		runs:        d.Runs,
		schema:      d.Schema,
		acl:         d.ACL,
		blobs:       d.Blobs,
		jobs:        d.Jobs,
		principals:  d.Principals,
		mapper:      NewRowMapper(d.Records, d.DefaultCurrency, logger),
		resolver:    NewDuplicateResolver(d.Records, d.ACL, logger),
		maxFileSize: d.MaxFileSize,
		now:         now,
		logger:      logger,
	}, nil
}

// SetJobQueue attaches the queue used for idle-mode runs. The worker needs
// the importer to run jobs, so the two are wired after construction.
func (im *Importer) SetJobQueue(q JobQueue) {
	im.jobs = q
}

func principalOr(p *Principal) Principal {
	if p == nil {
		return SystemPrincipal
	}
	return *p
}

// runRecord exposes a run to the permission checker.
func runRecord(run *Run) *Record {
	return &Record{
		Type:      RunEntityType,
		ID:        run.ID,
		Attrs:     map[string]any{"createdById": run.CreatedByID, "entityType": run.EntityType},
		CreatedAt: run.CreatedAt,
		Persisted: true,
	}
}

// runLogger returns the logger used for everything concerning one run.
func (im *Importer) runLogger(ctx context.Context, run *Run) *slog.Logger {
	return logging.WithFields(ctx, im.logger, "run_id", run.ID, "entity_type", run.EntityType)
}

func (im *Importer) getRun(ctx context.Context, runID string) (*Run, error) {
	run, err := im.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("import run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("get import run %s: %w", runID, err)
	}
	return run, nil
}

// RunDetails returns a run with its outcome counts.
func (im *Importer) RunDetails(ctx context.Context, principal *Principal, runID string) (*RunDetails, error) {
	p := principalOr(principal)
	run, err := im.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !p.Admin && !im.acl.CanRead(ctx, p, RunEntityType, runRecord(run)) {
		return nil, fmt.Errorf("read import run %s: %w", runID, ErrPermissionDenied)
	}

	counts, err := im.runs.CountOutcomes(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	return &RunDetails{Run: run, Counts: counts}, nil
}

// RunRecords returns the live records a run imported, updated or flagged.
func (im *Importer) RunRecords(ctx context.Context, principal *Principal, runID string, kind OutcomeKind) ([]*Record, error) {
	p := principalOr(principal)
	run, err := im.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !p.Admin {
		if !im.acl.CanRead(ctx, p, RunEntityType, runRecord(run)) {
			return nil, fmt.Errorf("read import run %s: %w", runID, ErrPermissionDenied)
		}
		if !im.acl.CanRead(ctx, p, run.EntityType, nil) {
			return nil, fmt.Errorf("read %s: %w", run.EntityType, ErrPermissionDenied)
		}
	}

	outcomes, err := im.runs.ListOutcomes(ctx, run.ID, kind)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	ids := lo.Uniq(lo.FilterMap(outcomes, func(o RowOutcome, _ int) (string, bool) {
		return o.RecordID, o.RecordID != "" && o.EntityType == run.EntityType
	}))

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := im.records.Get(ctx, run.EntityType, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s %s: %w", run.EntityType, id, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ClearDuplicateFlag marks one outcome of a run as not a duplicate. The
// principal needs edit access to the run.
func (im *Importer) ClearDuplicateFlag(ctx context.Context, principal *Principal, runID, entityType, recordID string) error {
	p := principalOr(principal)
	run, err := im.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if !p.Admin && !im.acl.CanEdit(ctx, p, RunEntityType, runRecord(run)) {
		return fmt.Errorf("edit import run %s: %w", runID, ErrPermissionDenied)
	}

	err = im.runs.SetDuplicateFlag(ctx, run.ID, entityType, recordID, false)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("outcome %s/%s of run %s: %w", entityType, recordID, runID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("clear duplicate flag: %w", err)
	}
	return nil
}

// UploadFile stores contents as an attachment for a later run.
func (im *Importer) UploadFile(ctx context.Context, name string, contents []byte) (string, error) {
	if len(contents) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidRequest)
	}
	if name == "" {
		name = "import-file.csv"
	}
	id, err := im.blobs.Put(ctx, name, contents)
	if err != nil {
		return "", fmt.Errorf("store attachment: %w", err)
	}
	return id, nil
}
