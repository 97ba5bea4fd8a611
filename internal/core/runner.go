package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Run imports an attachment into req.EntityType. With a RunID it continues
// an existing run, otherwise it creates one. Idle-mode runs are handed to
// the job queue and manual-mode runs are only created.
//
// A failure while iterating rows does not produce an error: the run is
// marked Failed and the counts gathered so far are returned.
func (im *Importer) Run(ctx context.Context, req RunRequest) (*Result, error) {
	p := principalOr(req.Principal)
	opts := req.Options.Clone()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()

	def, err := im.schema.Entity(req.EntityType)
	if err != nil {
		return nil, fmt.Errorf("entity %q: %w", req.EntityType, err)
	}

	mapping := append([]string(nil), req.Mapping...)
	if !p.Admin {
		forbidden := im.acl.ForbiddenAttributes(ctx, p, req.EntityType, "edit")
		for i, attr := range mapping {
			if lo.Contains(forbidden, attr) {
				mapping[i] = ""
			}
		}
		if !im.acl.CanCreate(ctx, p, req.EntityType) {
			return nil, fmt.Errorf("create %s: %w", req.EntityType, ErrPermissionDenied)
		}
	}

	contents, err := im.loadContents(ctx, req.AttachmentID)
	if err != nil {
		return nil, err
	}

	var (
		run       *Run
		startFrom *int
	)
	if req.RunID != "" {
		run, err = im.getRun(ctx, req.RunID)
		if err != nil {
			return nil, err
		}
		if opts.StartFromLastIndex && run.LastIndex != nil {
			idx := *run.LastIndex
			startFrom = &idx
		}
		run.Status = StatusInProcess
		run.UpdatedAt = im.now()
		if err := im.runs.UpdateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("update import run: %w", err)
		}
	} else {
		now := im.now()
		run = &Run{
			ID:           uuid.NewString(),
			EntityType:   req.EntityType,
			Mapping:      mapping,
			Status:       StatusInProcess,
			AttachmentID: req.AttachmentID,
			CreatedByID:  p.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		switch {
		case opts.ManualMode:
			opts.IdleMode = false
			run.Status = StatusStandby
		case opts.IdleMode:
			run.Status = StatusPending
		}
		run.Options = opts.Clone()
		if err := im.runs.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("create import run: %w", err)
		}
		if opts.ManualMode {
			return &Result{RunID: run.ID, Status: run.Status, ManualMode: true}, nil
		}
	}

	if opts.IdleMode {
		if im.jobs == nil {
			return nil, fmt.Errorf("%w: idle mode requires a job queue", ErrInvalidRequest)
		}
		if err := im.jobs.Enqueue(ctx, IdleJob{RunID: run.ID, PrincipalID: p.ID}); err != nil {
			return nil, fmt.Errorf("enqueue import run: %w", err)
		}
		return &Result{RunID: run.ID, Status: run.Status}, nil
	}

	return im.execute(ctx, p, run, def, mapping, opts, contents, startFrom), nil
}

// Resume runs an existing run again. Standby runs always resume; runs
// that are In Process or Failed need force. Pending runs belong to the job
// queue and are recovered by RequeuePending. With fromLastIndex, rows up to
// the checkpoint are skipped.
func (im *Importer) Resume(ctx context.Context, principal *Principal, runID string, fromLastIndex, force bool) (*Result, error) {
	run, err := im.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case StatusStandby:
	case StatusInProcess, StatusFailed:
		if !force {
			return nil, fmt.Errorf("%w: import run has %q status, force is required to resume", ErrInvalidRequest, run.Status)
		}
	default:
		return nil, fmt.Errorf("%w: cannot run import with %q status", ErrInvalidRequest, run.Status)
	}

	opts := run.Options.Clone()
	opts.StartFromLastIndex = fromLastIndex
	opts.IdleMode = false
	opts.ManualMode = false

	return im.Run(ctx, RunRequest{
		EntityType:   run.EntityType,
		Mapping:      run.Mapping,
		AttachmentID: run.AttachmentID,
		Options:      opts,
		RunID:        run.ID,
		Principal:    principal,
	})
}

// RunIdle executes a run handed to the worker. The principal that started
// the run must still exist and be active.
func (im *Importer) RunIdle(ctx context.Context, job IdleJob) error {
	if job.RunID == "" || job.PrincipalID == "" {
		return fmt.Errorf("%w: bad job data", ErrInvalidRequest)
	}
	p, err := im.jobPrincipal(ctx, job.PrincipalID)
	if err != nil {
		return err
	}

	run, err := im.getRun(ctx, job.RunID)
	if err != nil {
		return err
	}

	opts := run.Options.Clone()
	opts.IdleMode = false
	opts.ManualMode = false

	_, err = im.Run(ctx, RunRequest{
		EntityType:   run.EntityType,
		Mapping:      run.Mapping,
		AttachmentID: run.AttachmentID,
		Options:      opts,
		RunID:        run.ID,
		Principal:    &p,
	})
	return err
}

// RequeuePending hands every Pending run back to the job queue. The queue
// is in memory, so runs waiting in it at shutdown are picked up again on
// the next start. Each run executes as the principal that created it.
func (im *Importer) RequeuePending(ctx context.Context) (int, error) {
	if im.jobs == nil {
		return 0, fmt.Errorf("%w: requeue requires a job queue", ErrInvalidRequest)
	}

	runs, err := im.runs.ListRunsByStatus(ctx, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending runs: %w", err)
	}

	queued := 0
	for _, run := range runs {
		if err := im.jobs.Enqueue(ctx, IdleJob{RunID: run.ID, PrincipalID: run.CreatedByID}); err != nil {
			return queued, fmt.Errorf("requeue import run %s: %w", run.ID, err)
		}
		queued++
	}
	return queued, nil
}

// jobPrincipal resolves the principal a queued run executes as. Runs
// started without a principal belong to SystemPrincipal.
func (im *Importer) jobPrincipal(ctx context.Context, id string) (Principal, error) {
	if id == SystemPrincipal.ID {
		return SystemPrincipal, nil
	}
	if im.principals == nil {
		return Principal{}, fmt.Errorf("%w: no principal directory configured", ErrInvalidRequest)
	}
	p, err := im.principals.LookupPrincipal(ctx, id)
	if err != nil {
		return Principal{}, fmt.Errorf("principal %s: %w", id, err)
	}
	if !p.Active {
		return Principal{}, fmt.Errorf("principal %s is not active: %w", id, ErrPermissionDenied)
	}
	return p, nil
}

// RunWithParamsOf imports new contents using the entity type, mapping and
// options of an earlier run. Idle and manual mode are not carried over.
func (im *Importer) RunWithParamsOf(ctx context.Context, principal *Principal, contents []byte, sourceRunID string) (*Result, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: file contents is empty", ErrInvalidRequest)
	}

	source, err := im.getRun(ctx, sourceRunID)
	if err != nil {
		return nil, err
	}

	opts := source.Options.Clone()
	opts.IdleMode = false
	opts.ManualMode = false
	opts.StartFromLastIndex = false

	attachmentID, err := im.UploadFile(ctx, "import-file.csv", contents)
	if err != nil {
		return nil, err
	}

	return im.Run(ctx, RunRequest{
		EntityType:   source.EntityType,
		Mapping:      source.Mapping,
		AttachmentID: attachmentID,
		Options:      opts,
		Principal:    principal,
	})
}

func (im *Importer) loadContents(ctx context.Context, attachmentID string) (string, error) {
	if attachmentID == "" {
		return "", fmt.Errorf("%w: no attachment", ErrInvalidRequest)
	}
	data, err := im.blobs.GetContents(ctx, attachmentID)
	if err != nil {
		return "", fmt.Errorf("load attachment %s: %w", attachmentID, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidRequest)
	}
	contents, err := NormalizeContents(bytes.NewReader(data), im.maxFileSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return contents, nil
}

type rowStatus int

const (
	rowRecorded rowStatus = iota
	rowSkipped
	rowNotSaved
)

// execute iterates the rows of contents and records an outcome per row.
func (im *Importer) execute(ctx context.Context, p Principal, run *Run, def *EntityDef, mapping []string, opts Options, contents string, startFrom *int) *Result {
	log := im.runLogger(ctx, run)
	log.Info("import started", "action", opts.Action, "resume_after", lo.FromPtr(startFrom))
	start := time.Now()

	res := &Result{RunID: run.ID}
	mapped := mappedCount(mapping)
	tok := NewTokenizer(contents, opts.Dialect())

	err := func() error {
		for {
			row, idx, ok := tok.Next()
			if !ok {
				return nil
			}
			if idx == 0 && opts.HeaderRow {
				continue
			}
			if len(row) == 1 && row[0] == "" && mapped > 1 {
				continue
			}
			if startFrom != nil && idx <= *startFrom {
				continue
			}

			outcome, status, err := im.importRow(ctx, log, p, def, mapping, row, idx, opts)
			if err != nil {
				return fmt.Errorf("row %d: %w", idx, err)
			}
			switch status {
			case rowSkipped:
				res.Skipped++
				continue
			case rowNotSaved:
				res.Failed++
				continue
			}

			outcome.RunID = run.ID
			outcome.RowIndex = idx
			if err := im.runs.RecordRow(ctx, *outcome); err != nil {
				return fmt.Errorf("record row %d: %w", idx, err)
			}
			last := idx
			run.LastIndex = &last

			if outcome.Created {
				res.Created++
			}
			if outcome.Updated {
				res.Updated++
			}
			if outcome.Duplicate {
				res.Duplicates++
			}
		}
	}()

	run.Status = StatusComplete
	if err != nil {
		log.Error("import failed", "error", err, "last_index", lo.FromPtr(run.LastIndex))
		run.Status = StatusFailed
	}
	run.UpdatedAt = im.now()
	if uerr := im.runs.UpdateRun(context.WithoutCancel(ctx), run); uerr != nil {
		log.Error("failed to update import run status", "error", uerr, "status", run.Status)
	}

	res.Status = run.Status
	log.Info("import finished",
		"status", run.Status,
		"created", res.Created,
		"updated", res.Updated,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
		"not_saved", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// importRow matches, maps and commits one row. A returned error aborts
// the run; save failures only drop the row.
func (im *Importer) importRow(ctx context.Context, log *slog.Logger, p Principal, def *EntityDef, mapping []string, row []string, idx int, opts Options) (*RowOutcome, rowStatus, error) {
	if mappedCount(mapping) == 0 {
		return nil, rowSkipped, nil
	}

	match, err := im.resolver.Match(ctx, p, def, mapping, row, opts)
	if err != nil {
		return nil, rowSkipped, err
	}
	if match.Record == nil {
		if match.SkipReason == SkipNoUpdateKey {
			log.Warn("row skipped", "row", idx, "reason", match.SkipReason)
		} else {
			log.Debug("row skipped", "row", idx, "reason", match.SkipReason)
		}
		return nil, rowSkipped, nil
	}

	if err := im.mapper.Map(ctx, match.Record, def, mapping, row, opts); err != nil {
		return nil, rowSkipped, err
	}

	outcome, err := im.resolver.Commit(ctx, match.Record, def, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, rowSkipped, err
		}
		log.Warn("row not saved", "row", idx, "error", err)
		return nil, rowNotSaved, nil
	}
	return outcome, rowRecorded, nil
}
