package web

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// readCSVUpload reads the multipart "file" field, bounded by the configured
// size limit, and rejects content that is not text.
func (s *Server) readCSVUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		return "", nil, fmt.Errorf("%w: file too large or invalid form: %w", core.ErrInvalidRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: no attachment in form", core.ErrInvalidRequest)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty file", core.ErrInvalidRequest)
	}

	mtype := mimetype.Detect(data)
	if !isText(mtype) {
		return "", nil, fmt.Errorf("%w: unsupported file type %s", core.ErrInvalidRequest, mtype.String())
	}
	return header.Filename, data, nil
}

// isText reports whether m is text/plain or one of its descendants, such as
// text/csv.
func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// handleUploadAttachment stores a CSV file for a later import.
func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readCSVUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	id, err := s.service.UploadFile(r.Context(), name, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleRerun imports a new file with the parameters of an existing run.
func (s *Server) handleRerun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	_, data, err := s.readCSVUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var result *core.Result
	err = s.runLimited(r, func(ctx context.Context) error {
		var err error
		result, err = s.service.RunWithParamsOf(ctx, principalOf(r), data, runID)
		return err
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
