package improve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/shiprecon/internal/config"
	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/ingestion"
)

type scriptedEvaluator struct {
	scores   []float64
	coverage float64
	seen     []*dictionary.Snapshot
}

func (s *scriptedEvaluator) Evaluate(_ context.Context, snap *dictionary.Snapshot) (Evaluation, error) {
	n := len(s.seen)
	s.seen = append(s.seen, snap)
	score := s.scores[min(n, len(s.scores)-1)]
	return Evaluation{
		Metrics:  Metrics{Score: score, Coverage: s.coverage},
		Unmapped: []UnmappedHeader{{Header: fmt.Sprintf("Ship Col %d", n+1), Occurrences: 1}},
	}, nil
}

type vesselSuggester struct{}

func (vesselSuggester) Suggest(_ context.Context, h UnmappedHeader) (dictionary.Suggestion, bool, error) {
	return dictionary.Suggestion{Header: h.Header, Field: domain.FieldVessel, Confidence: 0.95}, true, nil
}

func newLoop(t *testing.T, eval Evaluator, maxIterations int, targetCoverage, targetScore float64) (*Loop, *dictionary.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := dictionary.NewStore(filepath.Join(dir, "dictionary.yaml"), dictionary.Default())
	loop := NewLoop(store, eval, vesselSuggester{}, Options{
		RunDir:         dir,
		RunID:          "run-1",
		MaxIterations:  maxIterations,
		TargetCoverage: targetCoverage,
		TargetScore:    targetScore,
		Now:            func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) },
	})
	return loop, store, filepath.Join(dir, "run-1")
}

func TestLoopStallsAndRestoresBestCheckpoint(t *testing.T) {
	eval := &scriptedEvaluator{scores: []float64{0.70, 0.68, 0.66}, coverage: 0.5}
	loop, store, runDir := newLoop(t, eval, 3, 0.95, 0.9)

	history, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopStalled, history.StopReason)
	assert.False(t, history.Succeeded)
	require.Len(t, history.Iterations, 3)
	assert.Equal(t, 1, history.BestIteration)
	assert.InDelta(t, 0.70, history.BestScore, 1e-9)

	require.Len(t, eval.seen, 3)
	assert.Equal(t, "1.0.0", eval.seen[0].Version())
	assert.Equal(t, "1.0.1", eval.seen[1].Version())
	assert.Equal(t, "1.0.2", eval.seen[2].Version())

	third := history.Iterations[2]
	assert.True(t, third.Regressed)
	assert.True(t, third.Restored)
	assert.Equal(t, 2, third.Stall)
	assert.False(t, history.Iterations[1].Regressed)

	assert.True(t, store.Current().SameContent(eval.seen[0]))
	assert.Equal(t, "1.0.3", history.FinalVersion)
	assert.Equal(t, "1.0.0", history.BestVersion)

	checkpoint, err := dictionary.Load(filepath.Join(runDir, "best-checkpoint.yaml"))
	require.NoError(t, err)
	assert.True(t, checkpoint.Equal(eval.seen[0]))

	for _, name := range []string{"iteration-001.json", "iteration-002.json", "iteration-003.json", "summary.json", "best-checkpoint.json"} {
		_, err := os.Stat(filepath.Join(runDir, name))
		assert.NoError(t, err, name)
	}
}

func TestLoopStallsAfterThreeFlatIterations(t *testing.T) {
	eval := &scriptedEvaluator{scores: []float64{0.5, 0.5, 0.5, 0.5, 0.99}, coverage: 1}
	loop, _, _ := newLoop(t, eval, 10, 0.95, 0.9)

	history, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopStalled, history.StopReason)
	assert.Len(t, history.Iterations, 4)
}

func TestLoopRegressionKeepsStallCounter(t *testing.T) {
	eval := &scriptedEvaluator{scores: []float64{0.8, 0.7, 0.79, 0.79}, coverage: 0.5}
	loop, _, _ := newLoop(t, eval, 10, 0.95, 0.9)

	history, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, history.Iterations, 4)
	assert.True(t, history.Iterations[1].Restored)
	assert.Equal(t, []int{0, 1, 2, 3}, []int{
		history.Iterations[0].Stall, history.Iterations[1].Stall,
		history.Iterations[2].Stall, history.Iterations[3].Stall,
	})
	assert.Equal(t, StopStalled, history.StopReason)
}

func TestLoopStopsOnTargets(t *testing.T) {
	eval := &scriptedEvaluator{scores: []float64{0.5, 0.93}, coverage: 0.97}
	loop, store, _ := newLoop(t, eval, 10, 0.95, 0.9)

	history, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopSuccess, history.StopReason)
	assert.True(t, history.Succeeded)
	assert.Len(t, history.Iterations, 2)
	assert.Equal(t, "1.0.1", store.Current().Version())

	snap := store.Current()
	field, ok := snap.Lookup("Ship Col 1")
	assert.True(t, ok)
	assert.Equal(t, domain.FieldVessel, field)
}

func TestScoreWeights(t *testing.T) {
	assert.InDelta(t, 1.0, Score(1, 1, 1, 1), 1e-9)
	assert.InDelta(t, 0.5, Score(1, 0, 0, 0), 1e-9)
	assert.InDelta(t, 0.3, Score(0, 1, 0, 0), 1e-9)
	assert.InDelta(t, 0.1, Score(0, 0, 1, 0), 1e-9)
	assert.InDelta(t, 0.1, Score(0, 0, 0, 1), 1e-9)
}

func TestPipelineEvaluatorScoresCorpus(t *testing.T) {
	cfg := config.Default().Pipeline
	eval := PipelineEvaluator{
		Pipeline: cfg,
		Sources: []Source{
			{Name: "a.csv", Table: ingestion.Table{
				Headers: []string{"Container No", "Carrier", "Remarks"},
				Rows: []map[string]any{
					{"Container No": "MSKU1234567", "Carrier": "Maersk", "Remarks": "fragile"},
					{"Carrier": "Maersk", "Remarks": "no id"},
				},
			}},
			{Name: "b.csv", Table: ingestion.Table{
				Headers: []string{"Container No", "Remarks"},
				Rows: []map[string]any{
					{"Container No": "TGHU7654321", "Remarks": "late"},
				},
			}},
		},
	}

	result, err := eval.Evaluate(context.Background(), dictionary.Default())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Metrics.Rows)
	assert.Equal(t, 2, result.Metrics.ValidRecords)
	assert.InDelta(t, 2.0/3.0, result.Metrics.Coverage, 1e-9)
	assert.InDelta(t, 1.0, result.Metrics.MeanConfidence, 1e-9)
	assert.Greater(t, result.Metrics.RequiredFill, 0.0)
	require.NotEmpty(t, result.Unmapped)
	assert.Equal(t, "Remarks", result.Unmapped[0].Header)
	assert.Equal(t, 3, result.Unmapped[0].Occurrences)
}

func TestPipelineEvaluatorIsolatesSources(t *testing.T) {
	sparse := ingestion.Table{Headers: []string{"Container No", "Remarks"}}
	full := ingestion.Table{Headers: []string{"Container No", "Carrier", "Vessel"}}
	for i := 0; i < 200; i++ {
		number := fmt.Sprintf("MSKU%07d", i)
		sparse.Rows = append(sparse.Rows, map[string]any{"Container No": number, "Remarks": "late"})
		full.Rows = append(full.Rows, map[string]any{"Container No": number, "Carrier": "Maersk", "Vessel": "Maersk Alba"})
	}
	eval := PipelineEvaluator{
		Pipeline: config.Default().Pipeline,
		Sources:  []Source{{Name: "sparse.csv", Table: sparse}, {Name: "full.csv", Table: full}},
	}

	first, err := eval.Evaluate(context.Background(), dictionary.Default())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := eval.Evaluate(context.Background(), dictionary.Default())
		require.NoError(t, err)
		assert.Equal(t, first.Metrics, again.Metrics, "evaluation %d", i)
	}

	alone, err := PipelineEvaluator{
		Pipeline: config.Default().Pipeline,
		Sources:  []Source{{Name: "sparse.csv", Table: sparse}},
	}.Evaluate(context.Background(), dictionary.Default())
	require.NoError(t, err)
	assert.Less(t, alone.Metrics.RequiredFill, first.Metrics.RequiredFill)
}

func TestHeuristicSuggesterQueuesForReview(t *testing.T) {
	sg, ok, err := HeuristicSuggester{}.Suggest(context.Background(), UnmappedHeader{Header: "Vessel Nm", Samples: []string{"Maersk Alba"}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.FieldVessel, sg.Field)

	doc := dictionary.Default().Document()
	report := dictionary.ApplySuggestions(&doc, []dictionary.Suggestion{sg}, dictionary.DefaultPendingFloor, time.Now())
	assert.Len(t, report.Pending, 1)
	assert.Empty(t, report.Accepted)

	_, ok, err = HeuristicSuggester{}.Suggest(context.Background(), UnmappedHeader{Header: "Remarks"})
	require.NoError(t, err)
	assert.False(t, ok)
}
