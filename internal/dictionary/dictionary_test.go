package dictionary

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

const groupedDoc = `
version: 2.3.4
required_fields:
  container_number:
    header_synonyms: [Container No, CNTR]
    confidence_threshold: 0.9
optional_fields:
  eta:
    header_synonyms:
      carrier_a: [ETA POD]
      carrier_b:
        portal: [Expected Arrival]
        email: [Arrives]
pending_fields: {}
`

func TestParseAcceptsListAndNestedGrouping(t *testing.T) {
	doc, err := Parse([]byte(groupedDoc))
	require.NoError(t, err)

	snap, err := NewSnapshot(doc)
	require.NoError(t, err)

	for header, field := range map[string]string{
		"container no":      domain.FieldContainerNumber,
		"CNTR":              domain.FieldContainerNumber,
		"ETA-POD":           domain.FieldETA,
		"Expected  Arrival": domain.FieldETA,
		"arrives":           domain.FieldETA,
		"Port_Of_Loading":   domain.FieldPortOfLoading,
	} {
		got, ok := snap.Lookup(header)
		require.True(t, ok, header)
		assert.Equal(t, field, got, header)
	}
	_, ok := snap.Lookup("Seal")
	assert.False(t, ok)

	assert.InDelta(t, 0.9, snap.Threshold(domain.FieldContainerNumber), 1e-9)
	assert.InDelta(t, DefaultConfidenceThreshold, snap.Threshold(domain.FieldETA), 1e-9)
}

func TestGroupedSynonymsRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(groupedDoc))
	require.NoError(t, err)

	data, err := doc.Marshal()
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, doc.OptionalFields[domain.FieldETA].HeaderSynonyms.All(), again.OptionalFields[domain.FieldETA].HeaderSynonyms.All())
	assert.Len(t, again.OptionalFields[domain.FieldETA].HeaderSynonyms.Groups, 2)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	_, err := Parse([]byte("version: one\nrequired_fields:\n  container_number:\n    header_synonyms: []\n"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = Parse([]byte("version: 1.0.0\nrequired_fields:\n  container_number:\n    header_synonyms: []\n  colour:\n    header_synonyms: []\n"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "container no", NormalizeHeader("  Container__No. "))
	assert.Equal(t, "eta", NormalizeHeader("ＥＴＡ"))
}

func TestStoreUpdateBumpsPatchAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictionary.yaml")
	store := NewStore(path, Default())
	ctx := context.Background()

	next, err := store.Update(ctx, func(doc *Document) (bool, error) {
		entry := doc.OptionalFields[domain.FieldVessel]
		entry.HeaderSynonyms = entry.HeaderSynonyms.With("Feeder Vessel")
		doc.OptionalFields[domain.FieldVessel] = entry
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", next.Version())
	assert.Same(t, next, store.Current())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(next))
	field, ok := loaded.Lookup("feeder vessel")
	require.True(t, ok)
	assert.Equal(t, domain.FieldVessel, field)
}

func TestStoreUpdateWithoutChangeKeepsVersion(t *testing.T) {
	store := NewStore("", Default())
	before := store.Current()

	after, err := store.Update(context.Background(), func(*Document) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestStoreRestoreReinstatesCheckpoint(t *testing.T) {
	store := NewStore("", Default())
	checkpoint := store.Current()
	ctx := context.Background()

	_, err := store.Update(ctx, func(doc *Document) (bool, error) {
		ApplySuggestions(doc, []Suggestion{{Header: "Ship Name", Field: domain.FieldVessel, Confidence: 0.99}}, 0, time.Now())
		return true, nil
	})
	require.NoError(t, err)
	require.False(t, store.Current().Equal(checkpoint))

	restored, err := store.Restore(ctx, checkpoint)
	require.NoError(t, err)
	assert.Same(t, restored, store.Current())
	assert.True(t, restored.SameContent(checkpoint))
	assert.False(t, restored.Equal(checkpoint))
	assert.Equal(t, "1.0.2", restored.Version())
	assert.Equal(t, "1.0.0", checkpoint.Version())
}

func TestStoreVersionsNeverRepeatAfterRestore(t *testing.T) {
	store := NewStore("", Default())
	checkpoint := store.Current()
	ctx := context.Background()
	addSynonym := func(header string) *Snapshot {
		snap, err := store.Update(ctx, func(doc *Document) (bool, error) {
			ApplySuggestions(doc, []Suggestion{{Header: header, Field: domain.FieldVessel, Confidence: 0.99}}, 0, time.Now())
			return true, nil
		})
		require.NoError(t, err)
		return snap
	}

	first := addSynonym("Ship Name")
	_, err := store.Restore(ctx, checkpoint)
	require.NoError(t, err)
	second := addSynonym("Vessel Nm")

	assert.Equal(t, "1.0.1", first.Version())
	assert.Equal(t, "1.0.3", second.Version())
	_, ok := second.Lookup("Ship Name")
	assert.False(t, ok)
	_, ok = second.Lookup("Vessel Nm")
	assert.True(t, ok)

	seen := map[string]*Snapshot{}
	for _, snap := range []*Snapshot{checkpoint, first, second} {
		if prior, dup := seen[snap.Version()]; dup {
			assert.True(t, prior.Equal(snap), "version %s reused", snap.Version())
		}
		seen[snap.Version()] = snap
	}
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestApplySuggestionsPartitionsByConfidence(t *testing.T) {
	doc := Default().Document()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	report := ApplySuggestions(&doc, []Suggestion{
		{Header: "Ship Name", Field: domain.FieldVessel, Confidence: 0.9},
		{Header: "Seal No", Field: domain.FieldBookingNumber, Confidence: 0.6, Samples: []string{"S1", "S2"}},
		{Header: "Remarks", Field: domain.FieldStatus, Confidence: 0.2},
		{Header: "Colour", Field: "colour", Confidence: 0.99},
		{Header: "Container No", Field: domain.FieldContainerNumber, Confidence: 0.99},
	}, DefaultPendingFloor, now)

	require.Len(t, report.Accepted, 1)
	assert.Equal(t, "Ship Name", report.Accepted[0].Header)
	require.Len(t, report.Pending, 1)
	assert.Equal(t, "Seal No", report.Pending[0].Header)
	assert.Len(t, report.Discarded, 3)
	assert.True(t, report.Changed())

	assert.True(t, doc.OptionalFields[domain.FieldVessel].HeaderSynonyms.Contains("ship name"))
	pending := doc.PendingFields["Seal No"]
	assert.Equal(t, domain.FieldBookingNumber, pending.SuggestedField)
	assert.Equal(t, []string{"S1", "S2"}, pending.Samples)
	assert.Equal(t, now, pending.SuggestedAt)
}

func TestApplySuggestionsRespectsFieldThreshold(t *testing.T) {
	doc := Default().Document()

	// container_number demands 0.95 in the built-in dictionary.
	report := ApplySuggestions(&doc, []Suggestion{{Header: "Unit Ref", Field: domain.FieldContainerNumber, Confidence: 0.9}}, 0.5, time.Now())

	assert.Empty(t, report.Accepted)
	assert.Len(t, report.Pending, 1)
}

func TestSynonymsWithAddsToLearnedGroup(t *testing.T) {
	doc, err := Parse([]byte(groupedDoc))
	require.NoError(t, err)

	syn := doc.OptionalFields[domain.FieldETA].HeaderSynonyms.With("Arrival ETA")
	assert.Equal(t, []string{"Arrival ETA"}, syn.Groups[LearnedGroup].Items)
	assert.True(t, syn.Contains("arrival eta"))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, CompareVersions("1.0.9", "1.0.10"))
	assert.Equal(t, 0, CompareVersions("v1.2.0", "1.2.0"))
}
