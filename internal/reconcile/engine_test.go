package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/oracle/oracletest"
	"github.com/rpattn/shiprecon/internal/repository"
	"github.com/rpattn/shiprecon/internal/repository/memory"
)

func reconcileWith(t *testing.T, opts Options, records ...[]any) (repository.Store, Result) {
	t.Helper()
	store := memory.NewStore()
	batchID := uuid.New()
	rows := makeRows(batchID, records...)
	archiveRows(t, store, rows)

	result, err := NewEngine(store, nil, opts).Reconcile(context.Background(), batchID, rows, dictionary.Default())
	require.NoError(t, err)
	return store, result
}

func TestReconcileLastRowWinsRegardlessOfChunking(t *testing.T) {
	var records [][]any
	for i := 0; i < 8; i++ {
		records = append(records, []any{"MSKU1234567", "In Transit", "", fmt.Sprintf("Vessel %d", i), "MAEU1", ""})
	}

	_, sequential := reconcileWith(t, Options{ChunkSize: 1, Workers: 1}, records...)
	require.Len(t, sequential.Records, 1)
	assert.Equal(t, "Vessel 7", sequential.Records[0].Field(domain.FieldVessel))

	for run := 0; run < 20; run++ {
		_, parallel := reconcileWith(t, Options{ChunkSize: 200, Workers: 4}, records...)
		require.Len(t, parallel.Records, 1)
		assert.Equal(t, sequential.Records[0].Fields, parallel.Records[0].Fields, "run %d", run)
		assert.Equal(t, sequential.Records[0].Stage, parallel.Records[0].Stage, "run %d", run)
		assert.Equal(t, 1, parallel.Summary.Created)
	}
}

func TestReconcileChunkSizeDoesNotChangeRecords(t *testing.T) {
	var records [][]any
	for i := 0; i < 30; i++ {
		number := fmt.Sprintf("TGHU%07d", i%5)
		bl := fmt.Sprintf("MAEU%d", i%3)
		status := "In Transit"
		if i%4 == 0 {
			status = "Arrived"
		}
		records = append(records, []any{number, status, "", fmt.Sprintf("Vessel %d", i), bl, ""})
	}
	records = append(records, []any{"", "In Transit"})

	base, baseline := reconcileWith(t, Options{ChunkSize: 1, Workers: 1}, records...)
	for _, opts := range []Options{
		{ChunkSize: 3, Workers: 2},
		{ChunkSize: 7, Workers: 8},
		{ChunkSize: 200, Workers: 4},
	} {
		store, result := reconcileWith(t, opts, records...)
		require.Len(t, result.Records, len(baseline.Records))
		for i := range baseline.Records {
			assert.Equal(t, baseline.Records[i].ContainerNumber, result.Records[i].ContainerNumber)
			assert.Equal(t, baseline.Records[i].Fields, result.Records[i].Fields, "chunk size %d", opts.ChunkSize)
			assert.Equal(t, baseline.Records[i].Stage, result.Records[i].Stage, "chunk size %d", opts.ChunkSize)
		}
		assert.Equal(t, baseline.Summary.Counters(), result.Summary.Counters())
		assert.Equal(t, baseline.Report.DroppedRows, result.Report.DroppedRows)

		want, err := base.Shipments.ListByReferences(context.Background(), []string{"MAEU0", "MAEU1", "MAEU2"})
		require.NoError(t, err)
		got, err := store.Shipments.ListByReferences(context.Background(), []string{"MAEU0", "MAEU1", "MAEU2"})
		require.NoError(t, err)
		assert.Len(t, got, len(want))
	}
}

// heldContainers flags the container repository's critical section.
type heldContainers struct {
	repository.ContainerRepository
	held atomic.Bool
}

func (h *heldContainers) Upsert(ctx context.Context, number string, fn repository.UpsertFunc) (repository.UpsertResult, error) {
	return h.ContainerRepository.Upsert(ctx, number, func(current domain.Container, found bool) (domain.Container, error) {
		h.held.Store(true)
		defer h.held.Store(false)
		return fn(current, found)
	})
}

func TestReconcileClassifiesLockedStatusOutsideCriticalSection(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	containers := &heldContainers{ContainerRepository: store.Containers}
	store.Containers = containers

	var heldDuringCall atomic.Bool
	fake := &oracletest.Fake{
		ClassifyStatusFunc: func(req oracle.StatusRequest) (oracle.StatusAnswer, error) {
			if containers.held.Load() {
				heldDuringCall.Store(true)
			}
			return oracle.StatusAnswer{StageCode: "ARRIVED"}, nil
		},
	}
	engine := NewEngine(store, fake, Options{})

	first := uuid.New()
	rows := makeRows(first, []any{"MSKU1234567", "In Transit", "", "Maersk Alba", "", ""})
	archiveRows(t, store, rows)
	_, err := engine.Reconcile(ctx, first, rows, dictionary.Default())
	require.NoError(t, err)

	_, err = NewEditor(store).Edit(ctx, "MSKU1234567", map[string]any{domain.FieldStatus: "Zqx pending agent"})
	require.NoError(t, err)

	second := uuid.New()
	rows = makeRows(second, []any{"MSKU1234567", "In Transit", "", "Maersk Alba", "", ""})
	archiveRows(t, store, rows)
	result, err := engine.Reconcile(ctx, second, rows, dictionary.Default())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	assert.GreaterOrEqual(t, fake.Calls(oracle.OpClassifyStatus), 1)
	assert.False(t, heldDuringCall.Load())
	assert.Equal(t, "Zqx pending agent", result.Records[0].Field(domain.FieldStatus))
	assert.Equal(t, domain.StageArrived, result.Records[0].Stage)
}
