package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityKeyNormalizesVariants(t *testing.T) {
	for _, raw := range []string{"msku-123 4567", "MSKU1234567", "msku1234567 "} {
		key, ok := IdentityKey(raw, DefaultMinIdentityLength)
		require.True(t, ok, raw)
		assert.Equal(t, "MSKU1234567", key, raw)
	}
}

func TestIdentityKeyRejectsShortOrMissing(t *testing.T) {
	_, ok := IdentityKey("a-1", 4)
	assert.False(t, ok)

	_, ok = IdentityKey(nil, 4)
	assert.False(t, ok)

	_, ok = IdentityKey("  --  ", 4)
	assert.False(t, ok)

	key, ok := IdentityKey(12345678, 4)
	require.True(t, ok)
	assert.Equal(t, "12345678", key)
}

func TestStripLockedRemovesLockedKeys(t *testing.T) {
	payload := map[string]any{"carrier": "MSC", "vessel": "ANNA", "eta": "2024-01-01"}
	out := StripLocked(payload, []string{"carrier", "eta"})

	assert.Equal(t, map[string]any{"vessel": "ANNA"}, out)
	assert.Len(t, payload, 3, "input must not be mutated")
}

func TestApplyFieldsHonoursLocks(t *testing.T) {
	c := NewContainer("MSKU1234567").WithLocks(FieldCarrier)
	c.Fields[FieldCarrier] = "HAPAG"

	updated, changed := c.ApplyFields(map[string]any{
		FieldCarrier: "MAERSK",
		FieldVessel:  "EMMA",
		FieldVoyage:  nil,
	})

	assert.Equal(t, "HAPAG", updated.Fields[FieldCarrier])
	assert.Equal(t, "EMMA", updated.Fields[FieldVessel])
	assert.Equal(t, []string{FieldVessel}, changed)
	assert.NotContains(t, c.Fields, FieldVessel, "original must be untouched")
}

func TestApplyFieldsReportsNoChangeForEqualValues(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewContainer("MSKU1234567")
	c, _ = c.ApplyFields(map[string]any{FieldETA: ts, FieldGrossWeight: 1200.5})

	_, changed := c.ApplyFields(map[string]any{FieldETA: ts, FieldGrossWeight: 1200.5})
	assert.Empty(t, changed)
}

func TestLocksAddAndRemove(t *testing.T) {
	c := NewContainer("MSKU1234567").WithLocks("vessel", "carrier", "vessel")
	assert.Equal(t, []string{"carrier", "vessel"}, c.LockedFields)

	c = c.WithoutLocks("carrier")
	assert.Equal(t, []string{"vessel"}, c.LockedFields)
	assert.True(t, c.IsLocked("vessel"))
	assert.False(t, c.IsLocked("carrier"))
}

func TestDateFieldAcceptsRoundTrippedStrings(t *testing.T) {
	c := NewContainer("MSKU1234567")
	c.Fields[FieldDeliveryDate] = "2024-05-02T00:00:00Z"

	ts, ok := c.DateField(FieldDeliveryDate)
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())

	_, ok = c.DateField(FieldGateOutDate)
	assert.False(t, ok)
}

func TestStageOrdering(t *testing.T) {
	assert.True(t, StageDelivered.After(StageArrived))
	assert.True(t, StageEmptyReturned.IsTerminal())
	assert.False(t, StageGatedOut.IsTerminal())

	stage, ok := ParseStage("gated-out")
	require.True(t, ok)
	assert.Equal(t, StageGatedOut, stage)

	_, ok = ParseStage("SAILING")
	assert.False(t, ok)
}

func TestBatchStatusTransitions(t *testing.T) {
	b := NewImportBatch("carrier-a", "a.csv", 10)

	_, err := b.WithStatus(BatchStatusCompleted, "")
	require.Error(t, err)

	b, err = b.WithStatus(BatchStatusProcessing, "")
	require.NoError(t, err)
	require.NotNil(t, b.StartedAt)

	b, err = b.WithStatus(BatchStatusFailed, "dictionary missing")
	require.NoError(t, err)
	assert.Equal(t, "dictionary missing", b.ErrorMessage)
	assert.True(t, b.Status.IsFinal())
}
