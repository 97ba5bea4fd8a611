// Package core provides the business logic for CSV import operations.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"time"
)

// RunStatus is the lifecycle state of an import run.
type RunStatus string

const (
	StatusStandby   RunStatus = "Standby"
	StatusPending   RunStatus = "Pending"
	StatusInProcess RunStatus = "In Process"
	StatusFailed    RunStatus = "Failed"
	StatusComplete  RunStatus = "Complete"
)

// Action is the policy that decides between creating and updating records.
type Action string

const (
	ActionCreate          Action = "create"
	ActionUpdate          Action = "update"
	ActionCreateAndUpdate Action = "createAndUpdate"
)

// matches reports whether the action looks up existing records.
func (a Action) matches() bool {
	return a == ActionUpdate || a == ActionCreateAndUpdate
}

// Run is one execution of the import process.
type Run struct {
	ID           string
	EntityType   string
	Mapping      []string // Column index -> attribute name, "" skips the column
	Options      Options
	Status       RunStatus
	LastIndex    *int // Last row index whose outcome is recorded
	AttachmentID string
	CreatedByID  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MappedCount returns the number of columns mapped to an attribute.
func (r *Run) MappedCount() int {
	return mappedCount(r.Mapping)
}

func mappedCount(mapping []string) int {
	n := 0
	for _, attr := range mapping {
		if attr != "" {
			n++
		}
	}
	return n
}

// RowOutcome is the append-only log entry written for every imported row.
// Exactly one of Created and Updated is set; Duplicate only accompanies Created.
type RowOutcome struct {
	RunID      string `json:"runId"`
	EntityType string `json:"entityType"`
	RecordID   string `json:"entityId"`
	RowIndex   int    `json:"rowIndex"`
	Created    bool   `json:"isImported"`
	Updated    bool   `json:"isUpdated"`
	Duplicate  bool   `json:"isDuplicate"`
}

// OutcomeKind selects outcomes by flag.
type OutcomeKind string

const (
	OutcomeAll        OutcomeKind = ""
	OutcomeImported   OutcomeKind = "imported"
	OutcomeUpdated    OutcomeKind = "updated"
	OutcomeDuplicates OutcomeKind = "duplicates"
)

// ParseOutcomeKind validates a link name used by the transport layers.
func ParseOutcomeKind(s string) (OutcomeKind, bool) {
	switch OutcomeKind(s) {
	case OutcomeImported, OutcomeUpdated, OutcomeDuplicates:
		return OutcomeKind(s), true
	default:
		return "", false
	}
}

// Matches reports whether an outcome belongs to the kind.
func (k OutcomeKind) Matches(o RowOutcome) bool {
	switch k {
	case OutcomeImported:
		return o.Created
	case OutcomeUpdated:
		return o.Updated
	case OutcomeDuplicates:
		return o.Duplicate
	default:
		return true
	}
}

// OutcomeCounts aggregates the outcome log of a run.
type OutcomeCounts struct {
	Imported   int `json:"importedCount"`
	Updated    int `json:"updatedCount"`
	Duplicates int `json:"duplicateCount"`
}

// Result is returned to callers of Run and Resume. Counts are always
// populated, even when the run ended in StatusFailed.
type Result struct {
	RunID      string    `json:"id"`
	Created    int       `json:"countCreated"`
	Updated    int       `json:"countUpdated"`
	Duplicates int       `json:"countDuplicates"`
	Skipped    int       `json:"countSkipped"`
	Failed     int       `json:"countFailed"`
	Status     RunStatus `json:"status"`
	ManualMode bool      `json:"manualMode,omitempty"`
}

// RunDetails is a run together with its outcome counts.
type RunDetails struct {
	Run    *Run
	Counts OutcomeCounts
}

// Principal is the acting user of an import.
type Principal struct {
	ID     string
	Admin  bool
	Active bool
	Roles  []string
}

// SystemPrincipal is used when a caller does not supply a principal,
// e.g. maintenance commands run from the CLI.
var SystemPrincipal = Principal{ID: "system", Admin: true, Active: true}

// IdleJob is the payload handed to the asynchronous worker for idle-mode runs.
type IdleJob struct {
	RunID       string `json:"runId"`
	PrincipalID string `json:"principalId"`
}

// RunRequest holds the arguments of Importer.Run.
type RunRequest struct {
	EntityType   string
	Mapping      []string
	AttachmentID string
	Options      Options
	RunID        string     // Existing run to continue; empty creates a new run
	Principal    *Principal // nil means SystemPrincipal
}
