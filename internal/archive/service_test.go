package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/ingestion"
	"github.com/rpattn/shiprecon/internal/repository/memory"
)

func sampleTable(n int) ingestion.Table {
	table := ingestion.Table{Headers: []string{"Container", "Status"}}
	for i := 0; i < n; i++ {
		table.Rows = append(table.Rows, map[string]any{"Container": "MSKU000000" + string(rune('0'+i)), "Status": "Loaded"})
	}
	return table
}

func TestArchiveAppliesRowLimit(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Batches)

	res, err := svc.Archive(context.Background(), Request{SourceName: "carrier", Table: sampleTable(5), Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Batch.TotalRows)
	assert.Len(t, res.Rows, 3)
	assert.Equal(t, domain.BatchStatusPending, res.Batch.Status)
}

func TestArchiveIsIdempotentPerBatch(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Batches)
	ctx := context.Background()

	first, err := svc.Archive(ctx, Request{SourceName: "carrier", Table: sampleTable(2)})
	require.NoError(t, err)
	require.Equal(t, 2, first.Inserted)

	id := first.Batch.ID
	changed := sampleTable(2)
	changed.Rows[0]["Status"] = "Discharged"
	again, err := svc.Archive(ctx, Request{BatchID: &id, SourceName: "carrier", Table: changed})
	require.NoError(t, err)

	assert.Zero(t, again.Inserted)
	assert.Equal(t, first.Rows[0].ID, again.Rows[0].ID)
	assert.Equal(t, "Loaded", again.Rows[0].Values["Status"])
}

func TestArchiveRequiresHeaders(t *testing.T) {
	svc := NewService(memory.NewStore().Batches)
	_, err := svc.Archive(context.Background(), Request{SourceName: "carrier"})
	require.Error(t, err)
}
