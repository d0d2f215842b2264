package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/exceptions"
	"github.com/rpattn/shiprecon/internal/ingestion"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/pipeline"
)

const defaultPageSize = 50

// ContainerView is a record with its timeline and current health.
type ContainerView struct {
	Container domain.Container        `json:"container"`
	Events    []domain.LifecycleEvent `json:"events"`
	Health    int                     `json:"health"`
}

// UploadResponse acknowledges an accepted upload.
type UploadResponse struct {
	BatchID uuid.UUID `json:"batch_id"`
	Rows    int       `json:"rows"`
}

type unlockRequest struct {
	Fields []string `json:"fields"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	batches, err := s.store.Batches.ListBatches(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if batches == nil {
		batches = []domain.ImportBatch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := batchID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	batch, err := s.store.Batches.GetBatch(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	id, err := batchID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if _, err := s.store.Batches.GetBatch(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	rows, err := s.store.Batches.ListRows(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.RawRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	number, err := containerNumber(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	record, err := s.store.Containers.GetByNumber(r.Context(), number)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.writeContainer(w, r, record)
}

func (s *Server) handleEditContainer(w http.ResponseWriter, r *http.Request) {
	number, err := containerNumber(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var changes map[string]any
	if err := decodeBody(r, &changes); err != nil {
		writeErr(w, r, err)
		return
	}
	record, err := s.editor.Edit(r.Context(), number, changes)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.writeContainer(w, r, record)
}

func (s *Server) handleUnlockContainer(w http.ResponseWriter, r *http.Request) {
	number, err := containerNumber(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req unlockRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if len(req.Fields) == 0 {
		writeErr(w, r, apperrors.NewValidationError("fields", nil, "no fields to unlock"))
		return
	}
	record, err := s.editor.Unlock(r.Context(), number, req.Fields...)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.writeContainer(w, r, record)
}

func (s *Server) handleEditShipment(w http.ResponseWriter, r *http.Request) {
	var changes map[string]any
	if err := decodeBody(r, &changes); err != nil {
		writeErr(w, r, err)
		return
	}
	shipment, err := s.editor.EditShipment(r.Context(), r.PathValue("reference"), changes)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (s *Server) handleUnlockShipment(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if len(req.Fields) == 0 {
		writeErr(w, r, apperrors.NewValidationError("fields", nil, "no fields to unlock"))
		return
	}
	shipment, err := s.editor.UnlockShipment(r.Context(), r.PathValue("reference"), req.Fields...)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

// handleUpload archives and processes an uploaded CSV or XLSX file. The
// batch id is returned immediately; progress is read from GET /batches/{id}.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads are disabled")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file required: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return
	}

	table, err := ingestion.ReadTable(header.Filename, data)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	source := strings.TrimSpace(r.FormValue("source"))
	if source == "" {
		source = header.Filename
	}
	limit := 0
	if raw := strings.TrimSpace(r.FormValue("limit")); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeErr(w, r, apperrors.NewValidationError("limit", raw, "must be a non-negative integer"))
			return
		}
	}

	id := uuid.New()
	in := pipeline.Input{
		BatchID:    &id,
		SourceName: source,
		FileName:   header.Filename,
		Table:      table,
		Limit:      limit,
	}

	// The run outlives the request; it keeps the request logger.
	ctx := context.WithoutCancel(r.Context())
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.runner.Run(ctx, in); err != nil {
			logging.FromContext(ctx).Error().Err(err).Str("batch_id", id.String()).Msg("Uploaded batch failed")
		}
	}()

	rows := len(table.Rows)
	if limit > 0 && limit < rows {
		rows = limit
	}
	w.Header().Set("Location", "/batches/"+id.String())
	writeJSON(w, http.StatusAccepted, UploadResponse{BatchID: id, Rows: rows})
}

func (s *Server) writeContainer(w http.ResponseWriter, r *http.Request, record domain.Container) {
	events, err := s.store.Events.ListByContainer(r.Context(), record.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if events == nil {
		events = []domain.LifecycleEvent{}
	}
	writeJSON(w, http.StatusOK, ContainerView{
		Container: record,
		Events:    events,
		Health:    exceptions.HealthScore(record, s.now()),
	})
}

func batchID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.NewValidationError("id", raw, "invalid batch id")
	}
	return id, nil
}

func containerNumber(r *http.Request) (string, error) {
	raw := r.PathValue("number")
	key, ok := domain.IdentityKey(raw, 0)
	if !ok {
		return "", apperrors.NewValidationError("number", raw, "not a valid container number")
	}
	return key, nil
}

func pageParams(r *http.Request) (int, int, error) {
	limit, offset := defaultPageSize, 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, 0, apperrors.NewValidationError("limit", raw, "must be a positive integer")
		}
		limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, apperrors.NewValidationError("offset", raw, "must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(v); err != nil {
		return apperrors.NewValidationError("body", nil, fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// writeErr maps error classes onto status codes.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrConfig):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error().Err(err).Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
