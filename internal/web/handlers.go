package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/web/templates"
)

// RunImportRequest is the body of POST /api/imports.
type RunImportRequest struct {
	EntityType   string         `json:"entityType"`
	AttachmentID string         `json:"attachmentId"`
	Mapping      []string       `json:"mapping"`
	Options      map[string]any `json:"options"`
}

// UnmarkDuplicateRequest is the body of POST /api/imports/{runID}/unmark-duplicate.
type UnmarkDuplicateRequest struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// RunDetailsResponse is a run as returned by the API.
type RunDetailsResponse struct {
	ID           string         `json:"id"`
	EntityType   string         `json:"entityType"`
	Status       core.RunStatus `json:"status"`
	Mapping      []string       `json:"mapping"`
	Options      core.Options   `json:"options"`
	LastIndex    *int           `json:"lastIndex"`
	AttachmentID string         `json:"attachmentId"`
	CreatedByID  string         `json:"createdById"`
	CreatedAt    string         `json:"createdAt"`
	core.OutcomeCounts
}

// runLimited runs fn holding an import slot, bounded by the import timeout.
func (s *Server) runLimited(r *http.Request, fn func(ctx context.Context) error) error {
	ctx := r.Context()
	if s.cfg.Import.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Import.Timeout)
		defer cancel()
	}
	return s.limiter.Do(ctx, fn)
}

// handleRunImport starts a run from an uploaded attachment.
func (s *Server) handleRunImport(w http.ResponseWriter, r *http.Request) {
	var req RunImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode request: %v", core.ErrInvalidRequest, err))
		return
	}
	if req.EntityType == "" {
		s.respondError(w, r, fmt.Errorf("%w: entityType is required", core.ErrInvalidRequest))
		return
	}

	opts, err := core.ParseOptions(req.Options)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var result *core.Result
	err = s.runLimited(r, func(ctx context.Context) error {
		var err error
		result, err = s.service.Run(ctx, core.RunRequest{
			EntityType:   req.EntityType,
			Mapping:      req.Mapping,
			AttachmentID: req.AttachmentID,
			Options:      opts,
			Principal:    principalOf(r),
		})
		return err
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Status == core.StatusPending || result.Status == core.StatusStandby {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// handleResume continues a stopped, failed or manual-mode run.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	q := r.URL.Query()
	fromLast := parseFlag(q.Get("lastIndex"))
	force := parseFlag(q.Get("force"))

	var result *core.Result
	err := s.runLimited(r, func(ctx context.Context) error {
		var err error
		result, err = s.service.Resume(ctx, principalOf(r), runID, fromLast, force)
		return err
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseFlag accepts "1", "true" and friends.
func parseFlag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// handleRunDetails returns a run with its outcome counts.
func (s *Server) handleRunDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.service.RunDetails(r.Context(), principalOf(r), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailsResponse(details))
}

func toDetailsResponse(d *core.RunDetails) RunDetailsResponse {
	run := d.Run
	return RunDetailsResponse{
		ID:            run.ID,
		EntityType:    run.EntityType,
		Status:        run.Status,
		Mapping:       run.Mapping,
		Options:       run.Options,
		LastIndex:     run.LastIndex,
		AttachmentID:  run.AttachmentID,
		CreatedByID:   run.CreatedByID,
		CreatedAt:     run.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		OutcomeCounts: d.Counts,
	}
}

// handleRunPage renders the HTML summary of a run.
func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	details, err := s.service.RunDetails(r.Context(), principalOf(r), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.RunSummary(details).Render(r.Context(), w); err != nil {
		s.respondError(w, r, fmt.Errorf("render run page: %w", err))
	}
}

// handleRunRecords lists the records a run imported, updated or flagged.
func (s *Server) handleRunRecords(w http.ResponseWriter, r *http.Request) {
	kind, ok := core.ParseOutcomeKind(chi.URLParam(r, "kind"))
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: unknown record link %q", core.ErrInvalidRequest, chi.URLParam(r, "kind")))
		return
	}

	records, err := s.service.RunRecords(r.Context(), principalOf(r), chi.URLParam(r, "runID"), kind)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(records),
		"list":  records,
	})
}

// handleRevert deletes the records a run created and then the run.
func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Revert(r.Context(), principalOf(r), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleRemoveDuplicates deletes the records a run flagged as duplicates.
func (s *Server) handleRemoveDuplicates(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.RemoveDuplicates(r.Context(), principalOf(r), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleUnmarkDuplicate clears the duplicate flag of one record of a run.
func (s *Server) handleUnmarkDuplicate(w http.ResponseWriter, r *http.Request) {
	var req UnmarkDuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: decode request: %v", core.ErrInvalidRequest, err))
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		s.respondError(w, r, fmt.Errorf("%w: entityType and entityId are required", core.ErrInvalidRequest))
		return
	}

	if err := s.service.ClearDuplicateFlag(r.Context(), principalOf(r), chi.URLParam(r, "runID"), req.EntityType, req.EntityID); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
