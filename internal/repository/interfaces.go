package repository

import (
	"context"

	"github.com/rpattn/shiprecon/internal/domain"

	"github.com/google/uuid"
)

// BatchRepository persists import batches and the raw row archive.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error)
	UpdateBatch(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error)
	ListBatches(ctx context.Context, limit int, offset int) ([]domain.ImportBatch, error)

	// InsertRows writes rows once per (batch_id, row_index). Rows that already
	// exist are left untouched and not counted.
	InsertRows(ctx context.Context, rows []domain.RawRow) (int, error)
	ListRows(ctx context.Context, batchID uuid.UUID) ([]domain.RawRow, error)
	GetRow(ctx context.Context, id uuid.UUID) (domain.RawRow, error)
	AttachContainer(ctx context.Context, rowID uuid.UUID, containerID uuid.UUID) error

	// Reset deletes a batch and its rows. It is the only deletion path.
	Reset(ctx context.Context, batchID uuid.UUID) error
}

// UpsertFunc receives the current record (a fresh one when found is false) and
// returns the record to store.
type UpsertFunc func(current domain.Container, found bool) (domain.Container, error)

// UpsertResult describes a completed upsert.
type UpsertResult struct {
	Container domain.Container
	Created   bool
}

// ContainerRepository persists canonical container records. Upsert runs fn inside
// a critical section keyed by container number, so lockedFields read by fn are
// still current when the result is written.
type ContainerRepository interface {
	Upsert(ctx context.Context, number string, fn UpsertFunc) (UpsertResult, error)
	GetByNumber(ctx context.Context, number string) (domain.Container, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Container, error)
	List(ctx context.Context, limit int, offset int) ([]domain.Container, error)
	Count(ctx context.Context) (int64, error)
}

// ShipmentRepository persists linked shipments and the shipment/container join.
type ShipmentRepository interface {
	Upsert(ctx context.Context, reference string, fn func(current domain.Shipment) domain.Shipment) (domain.Shipment, error)
	ListByReferences(ctx context.Context, references []string) ([]domain.Shipment, error)
	Link(ctx context.Context, shipmentID uuid.UUID, containerID uuid.UUID) error
	ListContainerIDs(ctx context.Context, shipmentID uuid.UUID) ([]uuid.UUID, error)
}

// EventRepository is the append-only lifecycle timeline.
type EventRepository interface {
	// Append stores the event unless the container already has one for the
	// same stage. The boolean reports whether a new event was written.
	Append(ctx context.Context, event domain.LifecycleEvent) (bool, error)
	ListByContainer(ctx context.Context, containerID uuid.UUID) ([]domain.LifecycleEvent, error)
}

// ProcessingLogRepository stores per-stage outcomes for observability and mining.
type ProcessingLogRepository interface {
	Record(ctx context.Context, entry domain.ProcessingLogEntry) error
	ListByContainer(ctx context.Context, containerID uuid.UUID) ([]domain.ProcessingLogEntry, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID, stage domain.ProcessingStage) ([]domain.ProcessingLogEntry, error)
}

// Store groups the repositories used by one pipeline run.
type Store struct {
	Batches    BatchRepository
	Containers ContainerRepository
	Shipments  ShipmentRepository
	Events     EventRepository
	Logs       ProcessingLogRepository
}
