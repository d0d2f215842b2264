package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/shiprecon/internal/errors"
)

// BatchStatus is the lifecycle state of an ingestion run.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

// CanTransition reports whether a batch may move from s to next.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	switch s {
	case BatchStatusPending:
		return next == BatchStatusProcessing || next == BatchStatusFailed
	case BatchStatusProcessing:
		return next == BatchStatusCompleted || next == BatchStatusFailed
	default:
		return false
	}
}

// IsFinal reports whether the batch has finished.
func (s BatchStatus) IsFinal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// BatchCounters are the cumulative row counters of a batch.
type BatchCounters struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

// Add returns the sum of two counter sets.
func (c BatchCounters) Add(other BatchCounters) BatchCounters {
	return BatchCounters{
		Processed: c.Processed + other.Processed,
		Succeeded: c.Succeeded + other.Succeeded,
		Failed:    c.Failed + other.Failed,
		Dropped:   c.Dropped + other.Dropped,
	}
}

// ImportBatch identifies one ingestion run.
type ImportBatch struct {
	ID           uuid.UUID      `json:"id"`
	SourceName   string         `json:"source_name"`
	FileName     string         `json:"file_name"`
	Status       BatchStatus    `json:"status"`
	TotalRows    int            `json:"total_rows"`
	Counters     BatchCounters  `json:"counters"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Analysis     map[string]any `json:"analysis,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewImportBatch creates a pending batch.
func NewImportBatch(sourceName, fileName string, totalRows int) ImportBatch {
	now := time.Now().UTC()
	return ImportBatch{
		ID:         uuid.New(),
		SourceName: sourceName,
		FileName:   fileName,
		Status:     BatchStatusPending,
		TotalRows:  totalRows,
		Analysis:   map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WithStatus returns a copy of the batch moved to next, stamping start and
// completion times.
func (b ImportBatch) WithStatus(next BatchStatus, message string) (ImportBatch, error) {
	if !b.Status.CanTransition(next) {
		return b, fmt.Errorf("batch %s: %s -> %s: %w", b.ID, b.Status, next, errors.ErrInvalidTransition)
	}
	now := time.Now().UTC()
	out := b
	out.Status = next
	out.UpdatedAt = now
	if message != "" {
		out.ErrorMessage = message
	}
	switch next {
	case BatchStatusProcessing:
		out.StartedAt = &now
	case BatchStatusCompleted, BatchStatusFailed:
		out.CompletedAt = &now
	}
	return out, nil
}

// RawRow is the immutable snapshot of one source row.
type RawRow struct {
	ID          uuid.UUID      `json:"id"`
	BatchID     uuid.UUID      `json:"batch_id"`
	RowIndex    int            `json:"row_index"`
	Headers     []string       `json:"headers"`
	Values      map[string]any `json:"values"`
	ContainerID *uuid.UUID     `json:"container_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewRawRow snapshots a source row. Headers and values are copied.
func NewRawRow(batchID uuid.UUID, index int, headers []string, values map[string]any) RawRow {
	h := make([]string, len(headers))
	copy(h, headers)
	return RawRow{
		ID:        uuid.New(),
		BatchID:   batchID,
		RowIndex:  index,
		Headers:   h,
		Values:    copyProperties(values),
		CreatedAt: time.Now().UTC(),
	}
}
