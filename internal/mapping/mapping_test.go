package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/oracle/oracletest"
	"github.com/rpattn/shiprecon/internal/transform"
)

func TestDictionaryMapperUsesSynonyms(t *testing.T) {
	snap := dictionary.Default()
	res, err := DictionaryMapper{}.MapHeaders(context.Background(), snap, []string{"CONTAINER_NO", "Carrier", "Mystery"}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.FieldContainerNumber, res.Mapping["CONTAINER_NO"])
	assert.Equal(t, domain.FieldCarrier, res.Mapping["Carrier"])
	assert.Equal(t, []string{"Mystery"}, res.Unmapped)
	assert.Equal(t, domain.MappingSourceDictionary, res.Source)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
}

func TestGuessField(t *testing.T) {
	cases := map[string]string{
		"Equipment Type":      domain.FieldContainerType,
		"Empty Return":        domain.FieldEmptyReturnDate,
		"Gate-Out":            domain.FieldGateOutDate,
		"Port of Discharge 2": domain.FieldPortOfDischarge,
		"Discharged On":       domain.FieldDischargeDate,
		"Cntr #":              domain.FieldContainerNumber,
		"Gross Wt (kg)":       domain.FieldGrossWeight,
		"Place of Delivery":   domain.FieldFinalDestination,
	}
	for header, want := range cases {
		got, ok := GuessField(header)
		require.True(t, ok, header)
		assert.Equal(t, want, got, header)
	}

	_, ok := GuessField("metadata")
	assert.False(t, ok)
}

func TestResolverFallsBackToHeuristicWhenOracleFails(t *testing.T) {
	fake := &oracletest.Fake{}
	resolver := NewResolver(fake)

	res, err := resolver.Resolve(context.Background(), dictionary.Default(), []string{"Container No", "Cntr Size"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.Calls(oracle.OpMapHeaders))
	assert.Equal(t, domain.FieldContainerType, res.Mapping["Cntr Size"])
	assert.Equal(t, domain.MappingSourceHeuristic, res.Sources["Cntr Size"])
	assert.InDelta(t, HeuristicConfidence, res.Scores["Cntr Size"], 1e-9)
	assert.Equal(t, domain.MappingSourceMixed, res.Source)
	assert.InDelta(t, (1.0+HeuristicConfidence)/2, res.Confidence, 1e-9)
}

func TestResolverIgnoresNonCanonicalOracleAnswers(t *testing.T) {
	fake := &oracletest.Fake{
		MapHeadersFunc: func(req oracle.HeaderRequest) (oracle.HeaderMapping, error) {
			assert.LessOrEqual(t, len(req.SampleRows), MaxSampleRows)
			return oracle.HeaderMapping{
				Mapping: map[string]string{
					"Ref X":  domain.FieldBookingNumber,
					"Colour": "paint_colour",
					"Ghost":  domain.FieldVessel,
				},
				Confidence: 0.8,
			}, nil
		},
	}
	resolver := NewResolver(fake)
	samples := []map[string]any{{"Ref X": "1"}, {"Ref X": "2"}, {"Ref X": "3"}, {"Ref X": "4"}}

	res, err := resolver.Resolve(context.Background(), dictionary.Default(), []string{"Container No", "Ref X", "Colour"}, samples)
	require.NoError(t, err)

	assert.Equal(t, domain.FieldBookingNumber, res.Mapping["Ref X"])
	assert.Equal(t, domain.MappingSourceOracle, res.Sources["Ref X"])
	assert.NotContains(t, res.Mapping, "Colour")
	assert.NotContains(t, res.Mapping, "Ghost")
	assert.Equal(t, []string{"Colour"}, res.Unmapped)
}

func TestResolverDictionaryOwnsItsFields(t *testing.T) {
	fake := &oracletest.Fake{
		MapHeadersFunc: func(req oracle.HeaderRequest) (oracle.HeaderMapping, error) {
			return oracle.HeaderMapping{
				Mapping: map[string]string{
					"Cntr Ref":  domain.FieldContainerNumber,
					"Ship Name": domain.FieldVessel,
				},
				Confidence: 0.9,
			}, nil
		},
	}
	headers := []string{"Container No", "Cntr Ref", "Ship Name"}

	res, err := NewResolver(fake).Resolve(context.Background(), dictionary.Default(), headers, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.FieldContainerNumber, res.Mapping["Container No"])
	assert.Equal(t, domain.MappingSourceDictionary, res.Sources["Container No"])
	assert.NotContains(t, res.Mapping, "Cntr Ref")
	assert.Equal(t, domain.FieldVessel, res.Mapping["Ship Name"])
	assert.Contains(t, res.Unmapped, "Cntr Ref")

	payload, unmapped := transform.Row(res.Mapping, map[string]any{
		"Container No": "MSKU1234567",
		"Cntr Ref":     "REF-99",
		"Ship Name":    "Maersk Alba",
	})
	assert.Equal(t, "MSKU1234567", payload[domain.FieldContainerNumber])
	assert.Equal(t, "REF-99", unmapped["Cntr Ref"])
}

func TestResolverCachesPerHeaderSignature(t *testing.T) {
	fake := &oracletest.Fake{}
	resolver := NewResolver(fake)
	headers := []string{"Container No", "Mystery"}
	snap := dictionary.Default()

	first, err := resolver.Resolve(context.Background(), snap, headers, nil)
	require.NoError(t, err)
	first.Mapping["Mystery"] = "tampered"

	second, err := resolver.Resolve(context.Background(), snap, headers, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.Calls(oracle.OpMapHeaders))
	assert.NotContains(t, second.Mapping, "Mystery")
}

func TestStatusNormalizerDictionarySynonymsSkipOracle(t *testing.T) {
	fake := &oracletest.Fake{
		ClassifyStatusFunc: func(req oracle.StatusRequest) (oracle.StatusAnswer, error) {
			return oracle.StatusAnswer{StageCode: "BOOKED"}, nil
		},
	}
	n := NewStatusNormalizer(fake)
	snap := dictionary.Default()
	ctx := context.Background()

	assert.Equal(t, domain.StageArrived, n.Normalize(ctx, snap, "Vessel Arrived"))
	assert.Equal(t, domain.StageCustomsReleased, n.Normalize(ctx, snap, "Customs Released"))
	assert.Equal(t, 0, fake.Calls(oracle.OpClassifyStatus))
}

func TestStatusNormalizerKeepsHeuristicWhenOracleFails(t *testing.T) {
	fake := &oracletest.Fake{}
	n := NewStatusNormalizer(fake)
	snap := dictionary.Default()
	ctx := context.Background()

	assert.Equal(t, domain.StageGatedOut, n.Normalize(ctx, snap, "gate out full"))
	assert.Equal(t, domain.StageDischarged, n.Normalize(ctx, snap, "Unloaded from vessel"))
	assert.Equal(t, 2, fake.Calls(oracle.OpClassifyStatus))
}

func TestStatusNormalizerOracleOverridesHeuristic(t *testing.T) {
	fake := &oracletest.Fake{
		ClassifyStatusFunc: func(req oracle.StatusRequest) (oracle.StatusAnswer, error) {
			return oracle.StatusAnswer{StageCode: "DELIVERED"}, nil
		},
	}
	n := NewStatusNormalizer(fake)
	snap := dictionary.Default()
	ctx := context.Background()

	require.Equal(t, domain.StageGatedOut, GuessStage("Released, picked up by trucker"))
	assert.Equal(t, domain.StageDelivered, n.Normalize(ctx, snap, "Released, picked up by trucker"))
	assert.Equal(t, domain.StageDelivered, n.Normalize(ctx, snap, "released picked up by trucker"))
	assert.Equal(t, 1, fake.Calls(oracle.OpClassifyStatus))
}

func TestStatusNormalizerInvalidOracleCodeKeepsHeuristic(t *testing.T) {
	fake := &oracletest.Fake{
		ClassifyStatusFunc: func(req oracle.StatusRequest) (oracle.StatusAnswer, error) {
			return oracle.StatusAnswer{StageCode: "UNKNOWN"}, nil
		},
	}
	n := NewStatusNormalizer(fake)

	assert.Equal(t, domain.StageCustomsReleased, n.Normalize(context.Background(), dictionary.Default(), "Container released"))
	assert.Equal(t, 1, fake.Calls(oracle.OpClassifyStatus))
}

func TestStatusNormalizeLocalNeverAsksOracle(t *testing.T) {
	fake := &oracletest.Fake{
		ClassifyStatusFunc: func(req oracle.StatusRequest) (oracle.StatusAnswer, error) {
			return oracle.StatusAnswer{StageCode: "DELIVERED"}, nil
		},
	}
	n := NewStatusNormalizer(fake)
	snap := dictionary.Default()

	assert.Equal(t, domain.StageGatedOut, n.NormalizeLocal(snap, "picked up by trucker"))
	assert.Equal(t, domain.StageUnknown, n.NormalizeLocal(snap, "zzz qqq"))
	assert.Equal(t, 0, fake.Calls(oracle.OpClassifyStatus))

	assert.Equal(t, domain.StageDelivered, n.Normalize(context.Background(), snap, "picked up by trucker"))
	assert.Equal(t, domain.StageDelivered, n.NormalizeLocal(snap, "picked up by trucker"))
	assert.Equal(t, 1, fake.Calls(oracle.OpClassifyStatus))
}

func TestStatusNormalizerRejectsInvalidOracleCode(t *testing.T) {
	fake := &oracletest.Fake{
		ClassifyStatusFunc: func(req oracle.StatusRequest) (oracle.StatusAnswer, error) {
			return oracle.StatusAnswer{StageCode: "TELEPORTED"}, nil
		},
	}
	n := NewStatusNormalizer(fake)
	snap := dictionary.Default()

	assert.Equal(t, domain.StageUnknown, n.Normalize(context.Background(), snap, "zzz qqq"))
	assert.Equal(t, domain.StageUnknown, n.Normalize(context.Background(), snap, "ZZZ-QQQ"))
	assert.Equal(t, 1, fake.Calls(oracle.OpClassifyStatus))
}

func TestStatusNormalizerAcceptsValidOracleCode(t *testing.T) {
	fake := &oracletest.Fake{
		ClassifyStatusFunc: func(req oracle.StatusRequest) (oracle.StatusAnswer, error) {
			return oracle.StatusAnswer{StageCode: "in_transit"}, nil
		},
	}
	n := NewStatusNormalizer(fake)

	assert.Equal(t, domain.StageInTransit, n.Normalize(context.Background(), dictionary.Default(), "rolled to next feeder"))
}

func TestDeriveStageDatePriority(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	arrivedButDelivered := map[string]any{domain.FieldDeliveryDate: day}
	assert.Equal(t, domain.StageDelivered, DeriveStage(arrivedButDelivered, GuessStage("Arrived")))

	returned := map[string]any{domain.FieldDeliveryDate: day, domain.FieldEmptyReturnDate: day}
	assert.Equal(t, domain.StageEmptyReturned, DeriveStage(returned, domain.StageArrived))

	gatedOut := map[string]any{domain.FieldGateOutDate: day}
	assert.Equal(t, domain.StageGatedOut, DeriveStage(gatedOut, domain.StageArrived))
	assert.Equal(t, domain.StageDelivered, DeriveStage(gatedOut, domain.StageDelivered))

	assert.Equal(t, domain.StageArrived, DeriveStage(map[string]any{}, domain.StageArrived))
}
