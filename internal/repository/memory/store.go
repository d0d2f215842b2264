// Package memory provides an in-process implementation of every repository.
// The improvement loop evaluates against it and tests use it as their store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/repository"
)

// NewStore returns a fresh, empty repository set.
func NewStore() repository.Store {
	return repository.Store{
		Batches:    NewBatchRepository(),
		Containers: NewContainerRepository(),
		Shipments:  NewShipmentRepository(),
		Events:     NewEventRepository(),
		Logs:       NewProcessingLogRepository(),
	}
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// BatchRepository keeps batches and raw rows in memory.
type BatchRepository struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]domain.ImportBatch
	rows    map[uuid.UUID]map[int]domain.RawRow
	rowByID map[uuid.UUID]rowKey
}

type rowKey struct {
	batchID uuid.UUID
	index   int
}

var _ repository.BatchRepository = (*BatchRepository)(nil)

// NewBatchRepository creates an empty batch repository.
func NewBatchRepository() *BatchRepository {
	return &BatchRepository{
		batches: make(map[uuid.UUID]domain.ImportBatch),
		rows:    make(map[uuid.UUID]map[int]domain.RawRow),
		rowByID: make(map[uuid.UUID]rowKey),
	}
}

func (r *BatchRepository) CreateBatch(_ context.Context, batch domain.ImportBatch) (domain.ImportBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.batches[batch.ID]; ok {
		return existing, nil
	}
	r.batches[batch.ID] = batch
	return batch, nil
}

func (r *BatchRepository) GetBatch(_ context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[id]
	if !ok {
		return domain.ImportBatch{}, apperrors.NewNotFoundError("import batch", id.String())
	}
	return batch, nil
}

func (r *BatchRepository) UpdateBatch(_ context.Context, batch domain.ImportBatch) (domain.ImportBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batch.ID]; !ok {
		return domain.ImportBatch{}, apperrors.NewNotFoundError("import batch", batch.ID.String())
	}
	r.batches[batch.ID] = batch
	return batch, nil
}

func (r *BatchRepository) ListBatches(_ context.Context, limit int, offset int) ([]domain.ImportBatch, error) {
	r.mu.RLock()
	out := make([]domain.ImportBatch, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, b)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *BatchRepository) InsertRows(_ context.Context, rows []domain.RawRow) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := 0
	for _, row := range rows {
		byIndex, ok := r.rows[row.BatchID]
		if !ok {
			byIndex = make(map[int]domain.RawRow)
			r.rows[row.BatchID] = byIndex
		}
		if _, exists := byIndex[row.RowIndex]; exists {
			continue
		}
		byIndex[row.RowIndex] = row
		r.rowByID[row.ID] = rowKey{batchID: row.BatchID, index: row.RowIndex}
		inserted++
	}
	return inserted, nil
}

func (r *BatchRepository) ListRows(_ context.Context, batchID uuid.UUID) ([]domain.RawRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byIndex := r.rows[batchID]
	out := make([]domain.RawRow, 0, len(byIndex))
	for _, row := range byIndex {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out, nil
}

func (r *BatchRepository) GetRow(_ context.Context, id uuid.UUID) (domain.RawRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.rowByID[id]
	if !ok {
		return domain.RawRow{}, apperrors.NewNotFoundError("raw row", id.String())
	}
	return r.rows[key.batchID][key.index], nil
}

func (r *BatchRepository) AttachContainer(_ context.Context, rowID uuid.UUID, containerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.rowByID[rowID]
	if !ok {
		return apperrors.NewNotFoundError("raw row", rowID.String())
	}
	row := r.rows[key.batchID][key.index]
	id := containerID
	row.ContainerID = &id
	r.rows[key.batchID][key.index] = row
	return nil
}

func (r *BatchRepository) Reset(_ context.Context, batchID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows[batchID] {
		delete(r.rowByID, row.ID)
	}
	delete(r.rows, batchID)
	delete(r.batches, batchID)
	return nil
}

// ContainerRepository keeps containers in memory with a critical section per
// container number.
type ContainerRepository struct {
	keys     keyedMutex
	mu       sync.RWMutex
	byNumber map[string]domain.Container
	numbers  map[uuid.UUID]string
}

var _ repository.ContainerRepository = (*ContainerRepository)(nil)

// NewContainerRepository creates an empty container repository.
func NewContainerRepository() *ContainerRepository {
	return &ContainerRepository{
		byNumber: make(map[string]domain.Container),
		numbers:  make(map[uuid.UUID]string),
	}
}

func (r *ContainerRepository) Upsert(ctx context.Context, number string, fn repository.UpsertFunc) (repository.UpsertResult, error) {
	unlock := r.keys.lock(number)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return repository.UpsertResult{}, err
	}

	r.mu.RLock()
	current, found := r.byNumber[number]
	r.mu.RUnlock()
	if found {
		current = current.Clone()
	} else {
		current = domain.NewContainer(number)
	}

	next, err := fn(current, found)
	if err != nil {
		return repository.UpsertResult{}, err
	}
	next.ID = current.ID
	next.ContainerNumber = current.ContainerNumber
	next.CreatedAt = current.CreatedAt

	stored := next.Clone()
	r.mu.Lock()
	r.byNumber[number] = stored
	r.numbers[stored.ID] = number
	r.mu.Unlock()

	return repository.UpsertResult{Container: stored.Clone(), Created: !found}, nil
}

func (r *ContainerRepository) GetByNumber(_ context.Context, number string) (domain.Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byNumber[number]
	if !ok {
		return domain.Container{}, apperrors.NewNotFoundError("container", number)
	}
	return c.Clone(), nil
}

func (r *ContainerRepository) GetByID(_ context.Context, id uuid.UUID) (domain.Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	number, ok := r.numbers[id]
	if !ok {
		return domain.Container{}, apperrors.NewNotFoundError("container", id.String())
	}
	return r.byNumber[number].Clone(), nil
}

func (r *ContainerRepository) List(_ context.Context, limit int, offset int) ([]domain.Container, error) {
	r.mu.RLock()
	out := make([]domain.Container, 0, len(r.byNumber))
	for _, c := range r.byNumber {
		out = append(out, c.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ContainerNumber < out[j].ContainerNumber })
	return page(out, limit, offset), nil
}

func (r *ContainerRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.byNumber)), nil
}

// ShipmentRepository keeps shipments and their container links in memory.
type ShipmentRepository struct {
	keys        keyedMutex
	mu          sync.RWMutex
	byReference map[string]domain.Shipment
	links       map[uuid.UUID][]uuid.UUID
}

var _ repository.ShipmentRepository = (*ShipmentRepository)(nil)

// NewShipmentRepository creates an empty shipment repository.
func NewShipmentRepository() *ShipmentRepository {
	return &ShipmentRepository{
		byReference: make(map[string]domain.Shipment),
		links:       make(map[uuid.UUID][]uuid.UUID),
	}
}

func (r *ShipmentRepository) Upsert(_ context.Context, reference string, fn func(current domain.Shipment) domain.Shipment) (domain.Shipment, error) {
	unlock := r.keys.lock(reference)
	defer unlock()

	r.mu.RLock()
	current, ok := r.byReference[reference]
	r.mu.RUnlock()
	if !ok {
		current = domain.NewShipment(reference)
	}

	next := fn(current)
	next.ID = current.ID
	next.Reference = current.Reference
	next.CreatedAt = current.CreatedAt

	r.mu.Lock()
	r.byReference[reference] = next
	r.mu.Unlock()
	return next, nil
}

func (r *ShipmentRepository) ListByReferences(_ context.Context, references []string) ([]domain.Shipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Shipment, 0, len(references))
	for _, ref := range references {
		if s, ok := r.byReference[ref]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *ShipmentRepository) Link(_ context.Context, shipmentID uuid.UUID, containerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.links[shipmentID] {
		if existing == containerID {
			return nil
		}
	}
	r.links[shipmentID] = append(r.links[shipmentID], containerID)
	return nil
}

func (r *ShipmentRepository) ListContainerIDs(_ context.Context, shipmentID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uuid.UUID{}, r.links[shipmentID]...), nil
}

// EventRepository is an in-memory lifecycle timeline.
type EventRepository struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]domain.LifecycleEvent
}

var _ repository.EventRepository = (*EventRepository)(nil)

// NewEventRepository creates an empty event repository.
func NewEventRepository() *EventRepository {
	return &EventRepository{events: make(map[uuid.UUID][]domain.LifecycleEvent)}
}

func (r *EventRepository) Append(_ context.Context, event domain.LifecycleEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.events[event.ContainerID] {
		if existing.Stage == event.Stage {
			return false, nil
		}
	}
	r.events[event.ContainerID] = append(r.events[event.ContainerID], event)
	return true, nil
}

func (r *EventRepository) ListByContainer(_ context.Context, containerID uuid.UUID) ([]domain.LifecycleEvent, error) {
	r.mu.RLock()
	out := append([]domain.LifecycleEvent{}, r.events[containerID]...)
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// ProcessingLogRepository is an in-memory processing log.
type ProcessingLogRepository struct {
	mu      sync.RWMutex
	entries []domain.ProcessingLogEntry
}

var _ repository.ProcessingLogRepository = (*ProcessingLogRepository)(nil)

// NewProcessingLogRepository creates an empty processing log.
func NewProcessingLogRepository() *ProcessingLogRepository {
	return &ProcessingLogRepository{}
}

func (r *ProcessingLogRepository) Record(_ context.Context, entry domain.ProcessingLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *ProcessingLogRepository) ListByContainer(_ context.Context, containerID uuid.UUID) ([]domain.ProcessingLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.ProcessingLogEntry{}
	for _, e := range r.entries {
		if e.ContainerID != nil && *e.ContainerID == containerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *ProcessingLogRepository) ListByBatch(_ context.Context, batchID uuid.UUID, stage domain.ProcessingStage) ([]domain.ProcessingLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.ProcessingLogEntry{}
	for _, e := range r.entries {
		if e.BatchID == nil || *e.BatchID != batchID {
			continue
		}
		if stage != "" && e.Stage != stage {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func page[T any](items []T, limit int, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
