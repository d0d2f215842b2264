package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/improve"
	"github.com/rpattn/shiprecon/internal/logging"
)

func (a *app) newImproveCmd() *cobra.Command {
	var (
		runID          string
		runDir         string
		maxIterations  int
		targetCoverage float64
		targetScore    float64
	)
	cmd := &cobra.Command{
		Use:   "improve BENCHMARK...",
		Short: "Grow the dictionary against a benchmark corpus",
		Long: `Improve runs the benchmark files through the pipeline, scores the result
and adds synonyms for unmapped headers until the targets are met, progress
stalls or the iteration budget runs out. Every iteration is written to the
run directory; the best dictionary is kept as best-checkpoint.yaml.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ic := a.cfg.Improve
			if cmd.Flags().Changed("max-iterations") {
				ic.MaxIterations = maxIterations
			}
			if cmd.Flags().Changed("target-coverage") {
				ic.TargetCoverage = targetCoverage
			}
			if cmd.Flags().Changed("target-score") {
				ic.TargetScore = targetScore
			}
			if runDir != "" {
				ic.RunDir = runDir
			}

			dict, err := a.openDictionary()
			if errors.Is(err, os.ErrNotExist) {
				logging.FromContext(ctx).Warn().
					Str("path", a.cfg.Dictionary.Path).
					Msg("Dictionary not found, starting from the built-in dictionary")
				dict, err = dictionary.NewStore(a.cfg.Dictionary.Path, dictionary.Default()), nil
			}
			if err != nil {
				return err
			}

			o, err := a.openOracle(ctx)
			if err != nil {
				return err
			}
			sources, err := improve.LoadSources(args)
			if err != nil {
				return err
			}

			loop := improve.NewLoop(dict,
				improve.PipelineEvaluator{Sources: sources, Oracle: o, Pipeline: a.cfg.Pipeline},
				improve.NewSuggester(o),
				improve.Options{
					RunDir:         ic.RunDir,
					RunID:          runID,
					MaxIterations:  ic.MaxIterations,
					TargetCoverage: ic.TargetCoverage,
					TargetScore:    ic.TargetScore,
				})
			history, err := loop.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, history)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "name of the run directory (default: timestamp)")
	cmd.Flags().StringVar(&runDir, "run-dir", "", "parent directory for run artifacts")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration budget")
	cmd.Flags().Float64Var(&targetCoverage, "target-coverage", 0, "coverage that ends the run")
	cmd.Flags().Float64Var(&targetScore, "target-score", 0, "score that ends the run")
	return cmd
}
