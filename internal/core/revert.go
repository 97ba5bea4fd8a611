package core

import (
	"context"
	"errors"
	"fmt"
)

// RevertSummary reports what Revert and RemoveDuplicates removed.
type RevertSummary struct {
	RunID   string `json:"id"`
	Removed int    `json:"countRemoved"`
	Purged  int    `json:"countPurged"`
	Missing int    `json:"countMissing"`
}

// Revert deletes every record a run created and then the run itself.
// Records of runs younger than RevertPurgeWindow are removed permanently;
// older ones are only soft-deleted. Updated records are left as they are.
func (im *Importer) Revert(ctx context.Context, principal *Principal, runID string) (*RevertSummary, error) {
	p := principalOr(principal)
	run, err := im.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !p.Admin && !im.acl.CanDelete(ctx, p, RunEntityType, runRecord(run)) {
		return nil, fmt.Errorf("revert import run %s: %w", runID, ErrPermissionDenied)
	}

	outcomes, err := im.runs.ListOutcomes(ctx, run.ID, OutcomeImported)
	if err != nil {
		return nil, fmt.Errorf("list imported outcomes: %w", err)
	}

	purge := !run.CreatedAt.IsZero() && im.now().Sub(run.CreatedAt) < RevertPurgeWindow
	sum, err := im.removeRecords(ctx, run, outcomes, purge)
	if err != nil {
		return sum, err
	}

	if err := im.runs.DeleteRun(ctx, run.ID); err != nil {
		return sum, fmt.Errorf("delete import run: %w", err)
	}

	im.runLogger(ctx, run).Info("import reverted",
		"removed", sum.Removed,
		"purged", sum.Purged,
		"missing", sum.Missing,
	)
	return sum, nil
}

// RemoveDuplicates deletes and purges every record a run flagged as a
// duplicate. The run and its outcome log are kept.
func (im *Importer) RemoveDuplicates(ctx context.Context, principal *Principal, runID string) (*RevertSummary, error) {
	p := principalOr(principal)
	run, err := im.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !p.Admin && !im.acl.CanDelete(ctx, p, RunEntityType, runRecord(run)) {
		return nil, fmt.Errorf("remove duplicates of import run %s: %w", runID, ErrPermissionDenied)
	}

	outcomes, err := im.runs.ListOutcomes(ctx, run.ID, OutcomeDuplicates)
	if err != nil {
		return nil, fmt.Errorf("list duplicate outcomes: %w", err)
	}

	sum, err := im.removeRecords(ctx, run, outcomes, true)
	if err != nil {
		return sum, err
	}

	im.runLogger(ctx, run).Info("import duplicates removed",
		"removed", sum.Removed,
		"missing", sum.Missing,
	)
	return sum, nil
}

func (im *Importer) removeRecords(ctx context.Context, run *Run, outcomes []RowOutcome, purge bool) (*RevertSummary, error) {
	sum := &RevertSummary{RunID: run.ID}
	silent := SaveOptions{SkipHistory: true, SkipNotifications: true, Silent: true}

	for _, o := range outcomes {
		if o.EntityType == "" || o.RecordID == "" {
			continue
		}
		if _, err := im.schema.Entity(o.EntityType); err != nil {
			sum.Missing++
			continue
		}

		_, err := im.records.Get(ctx, o.EntityType, o.RecordID)
		switch {
		case errors.Is(err, ErrNotFound):
			sum.Missing++
			continue
		case err != nil:
			return sum, fmt.Errorf("get %s %s: %w", o.EntityType, o.RecordID, err)
		default:
			if err := im.records.Delete(ctx, o.EntityType, o.RecordID, silent); err != nil {
				return sum, fmt.Errorf("delete %s %s: %w", o.EntityType, o.RecordID, err)
			}
			sum.Removed++
		}

		if !purge {
			continue
		}
		if err := im.records.Purge(ctx, o.EntityType, o.RecordID); err != nil {
			return sum, fmt.Errorf("purge %s %s: %w", o.EntityType, o.RecordID, err)
		}
		sum.Purged++
	}
	return sum, nil
}
