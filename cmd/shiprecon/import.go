package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/shiprecon/internal/ingestion"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/pipeline"
)

type importOptions struct {
	source  string
	limit   int
	batchID string
	dryRun  bool
}

func (a *app) newImportCmd() *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Archive and reconcile CSV or XLSX files",
		Long: `Import archives every row of each file under a new import batch, then
maps, merges, audits and classifies the records. A configuration problem
fails the batch with a diagnostic instead of aborting before it is archived.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "source name recorded on the batch (default: file name)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "process at most this many rows per file")
	cmd.Flags().StringVar(&opts.batchID, "batch", "", "resume an existing batch id (single file only)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "use an in-memory store instead of Postgres")
	return cmd
}

func (a *app) runImport(cmd *cobra.Command, opts *importOptions, files []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	var resume *uuid.UUID
	if opts.batchID != "" {
		if len(files) > 1 {
			return fmt.Errorf("--batch takes exactly one file")
		}
		id, err := uuid.Parse(opts.batchID)
		if err != nil {
			return fmt.Errorf("invalid --batch: %w", err)
		}
		resume = &id
	}

	store, closeStore, err := a.openStore(ctx, opts.dryRun)
	if err != nil {
		return err
	}
	defer closeStore()

	// Configuration problems are reported through the batch status.
	var preflightErr error
	var dict pipeline.DictionarySource = nilDictionary{}
	if d, err := a.openDictionary(); err != nil {
		preflightErr = err
	} else {
		dict = d
	}
	var o oracle.Oracle
	if preflightErr == nil {
		o, preflightErr = a.openOracle(ctx)
	}

	runner := pipeline.NewRunner(store, o, dict, pipeline.Options{
		Pipeline:  a.cfg.Pipeline,
		Preflight: func() error { return preflightErr },
	})

	limit := opts.limit
	if limit == 0 {
		limit = a.cfg.Pipeline.RowLimit
	}

	var failed int
	for _, path := range files {
		table, err := ingestion.ReadFile(path)
		if err != nil {
			return err
		}
		source := opts.source
		if source == "" {
			source = filepath.Base(path)
		}

		report, err := runner.Run(ctx, pipeline.Input{
			BatchID:    resume,
			SourceName: source,
			FileName:   filepath.Base(path),
			Table:      table,
			Limit:      limit,
		})
		if err != nil {
			failed++
			log.Error().Err(err).Str("file", path).Msg("Import failed")
		}
		if printErr := printJSON(cmd, report); printErr != nil {
			return printErr
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(files))
	}
	return nil
}
