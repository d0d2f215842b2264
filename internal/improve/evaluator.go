package improve

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/shiprecon/internal/config"
	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/ingestion"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/pipeline"
	"github.com/rpattn/shiprecon/internal/repository/memory"
)

// Evaluation is the scored outcome of one pass over the corpus.
type Evaluation struct {
	Metrics  Metrics          `json:"metrics"`
	Unmapped []UnmappedHeader `json:"unmapped"`
}

// Evaluator scores a dictionary snapshot against the benchmark corpus.
type Evaluator interface {
	Evaluate(ctx context.Context, snap *dictionary.Snapshot) (Evaluation, error)
}

// Source is one benchmark table.
type Source struct {
	Name  string
	Table ingestion.Table
}

// LoadSources reads benchmark files from disk.
func LoadSources(paths []string) ([]Source, error) {
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		table, err := ingestion.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read benchmark %s: %w", p, err)
		}
		sources = append(sources, Source{Name: filepath.Base(p), Table: table})
	}
	return sources, nil
}

// PipelineEvaluator runs archive, reconcile and audit over every source. Each
// source gets its own in-memory store, so sources sharing container numbers
// never merge into each other.
type PipelineEvaluator struct {
	Sources  []Source
	Oracle   oracle.Oracle
	Pipeline config.PipelineConfig
}

type fixedSnapshot struct{ snap *dictionary.Snapshot }

func (f fixedSnapshot) Current() *dictionary.Snapshot { return f.snap }

// Evaluate implements Evaluator.
func (e PipelineEvaluator) Evaluate(ctx context.Context, snap *dictionary.Snapshot) (Evaluation, error) {
	results := make([]SourceResult, len(e.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range e.Sources {
		g.Go(func() error {
			runner := pipeline.NewRunner(memory.NewStore(), e.Oracle, fixedSnapshot{snap}, pipeline.Options{
				Pipeline:           e.Pipeline,
				SkipClassification: true,
			})
			report, err := runner.Run(gctx, pipeline.Input{
				SourceName: src.Name,
				FileName:   src.Name,
				Table:      src.Table,
				Limit:      e.Pipeline.RowLimit,
			})
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Name, err)
			}
			results[i] = SourceResult{Name: src.Name, Result: report.Reconcile, Records: report.Reconcile.Records}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Evaluation{}, err
	}

	return Evaluation{
		Metrics:  computeMetrics(results, snap.RequiredFields(), snap.OptionalFields()),
		Unmapped: aggregateUnmapped(results),
	}, nil
}
