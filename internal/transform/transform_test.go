package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/shiprecon/internal/domain"
)

func TestDateParsesCommonEncodings(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, raw := range []any{"2024-01-01", "01-Jan-2024", "2024/01/01", "45292", 45292.0, "20240101"} {
		got, ok := Date(raw)
		require.True(t, ok, "%v", raw)
		assert.True(t, want.Equal(got), "%v parsed as %v", raw, got)
	}
}

func TestDateRejectsGarbage(t *testing.T) {
	for _, raw := range []any{"TBA", "", "12", 3.5} {
		_, ok := Date(raw)
		assert.False(t, ok, "%v", raw)
	}
}

func TestNumberAndCurrency(t *testing.T) {
	n, ok := Number("12,345.6 kg")
	require.True(t, ok)
	assert.InDelta(t, 12345.6, n, 1e-9)

	n, ok = Number("1.234,50")
	require.True(t, ok)
	assert.InDelta(t, 1234.5, n, 1e-9)

	c, ok := Currency("USD 1,200.50")
	require.True(t, ok)
	assert.InDelta(t, 1200.5, c, 1e-9)

	c, ok = Currency("(300)")
	require.True(t, ok)
	assert.InDelta(t, -300, c, 1e-9)

	_, ok = Number("n/a")
	assert.False(t, ok)
}

func TestValueNeverFailsOnMalformedInput(t *testing.T) {
	assert.Nil(t, Value(domain.FieldTypeDate, "soon"))
	assert.Nil(t, Value(domain.FieldTypeNumber, "heavy"))
	assert.Nil(t, Value(domain.FieldTypeString, "   "))
	assert.Equal(t, "MAERSK LINE", Value(domain.FieldTypeString, "  MAERSK   LINE "))
}

func TestRowSplitsMappedAndUnmapped(t *testing.T) {
	mapping := map[string]string{
		"Container No": domain.FieldContainerNumber,
		"ETA":          domain.FieldETA,
		"Weight":       domain.FieldGrossWeight,
	}
	row := map[string]any{
		"Container No": "MSKU1234567",
		"ETA":          "not yet",
		"Weight":       "1,000",
		"Seal":         "SL-99",
	}

	payload, unmapped := Row(mapping, row)

	assert.Equal(t, "MSKU1234567", payload[domain.FieldContainerNumber])
	assert.NotContains(t, payload, domain.FieldETA)
	assert.InDelta(t, 1000.0, payload[domain.FieldGrossWeight], 1e-9)
	assert.Equal(t, map[string]any{"Seal": "SL-99"}, unmapped)
}

func TestRowFirstHeaderWinsForSharedField(t *testing.T) {
	mapping := map[string]string{"A Carrier": domain.FieldCarrier, "B Carrier": domain.FieldCarrier}

	payload, _ := Row(mapping, map[string]any{"A Carrier": "", "B Carrier": "MSC"})
	assert.Equal(t, "MSC", payload[domain.FieldCarrier])

	payload, _ = Row(mapping, map[string]any{"A Carrier": "ONE", "B Carrier": "MSC"})
	assert.Equal(t, "ONE", payload[domain.FieldCarrier])
}
