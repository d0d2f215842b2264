package domain

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleEvent is an append-only timeline entry of a container.
type LifecycleEvent struct {
	ID          uuid.UUID  `json:"id"`
	ContainerID uuid.UUID  `json:"container_id"`
	Stage       Stage      `json:"stage"`
	OccurredAt  time.Time  `json:"occurred_at"`
	Location    string     `json:"location,omitempty"`
	Source      string     `json:"source"`
	BatchID     *uuid.UUID `json:"batch_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewLifecycleEvent creates an event for a stage reached by a container.
func NewLifecycleEvent(containerID uuid.UUID, stage Stage, occurredAt time.Time, location, source string, batchID *uuid.UUID) LifecycleEvent {
	now := time.Now().UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return LifecycleEvent{
		ID:          uuid.New(),
		ContainerID: containerID,
		Stage:       stage,
		OccurredAt:  occurredAt,
		Location:    location,
		Source:      source,
		BatchID:     batchID,
		CreatedAt:   now,
	}
}

// ProcessingStage names the pipeline stage that produced a log entry.
type ProcessingStage string

const (
	ProcessingMapping    ProcessingStage = "mapping"
	ProcessingAudit      ProcessingStage = "audit"
	ProcessingCorrection ProcessingStage = "correction"
	ProcessingException  ProcessingStage = "exception"
)

// ProcessingLogEntry records the outcome of one stage for one container.
type ProcessingLogEntry struct {
	ID          uuid.UUID       `json:"id"`
	ContainerID *uuid.UUID      `json:"container_id,omitempty"`
	BatchID     *uuid.UUID      `json:"batch_id,omitempty"`
	RowIndex    *int            `json:"row_index,omitempty"`
	Stage       ProcessingStage `json:"stage"`
	Status      string          `json:"status"`
	Confidence  float64         `json:"confidence"`
	RawOutput   string          `json:"raw_output,omitempty"`
	Message     string          `json:"message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
