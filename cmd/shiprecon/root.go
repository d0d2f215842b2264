package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/shiprecon/internal/config"
	"github.com/rpattn/shiprecon/internal/db"
	"github.com/rpattn/shiprecon/internal/dictionary"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/oracle"
	"github.com/rpattn/shiprecon/internal/repository"
	"github.com/rpattn/shiprecon/internal/repository/memory"
)

// app holds what every subcommand shares after the root pre-run.
type app struct {
	configDir string
	logLevel  string
	cfg       config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "shiprecon",
		Short: "Reconcile carrier container spreadsheets",
		Long: `shiprecon archives carrier spreadsheets, maps their headers onto the
canonical container schema, merges rows into one record per container,
audits the result and flags containers that need attention.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configDir, "config", "", "directory containing config.yaml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		a.newImportCmd(),
		a.newImproveCmd(),
		a.newClassifyCmd(),
		a.newEditCmd(),
		a.newMigrateCmd(),
		a.newServeCmd(),
		a.newDictionaryCmd(),
	)
	return root
}

// setup loads configuration and installs the logger on the command context.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configDir)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	logging.Configure(cfg.Logging.LoggerConfig())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, logging.Default()))
	return nil
}

// openStore connects to Postgres, or returns an in-memory store when
// inMemory is set. The returned func releases the connection.
func (a *app) openStore(ctx context.Context, inMemory bool) (repository.Store, func(), error) {
	if inMemory {
		return memory.NewStore(), func() {}, nil
	}
	conn, err := db.NewConnection(ctx, a.cfg.Database)
	if err != nil {
		return repository.Store{}, nil, err
	}
	return repository.NewPostgresStore(conn.Pool), conn.Close, nil
}

// openDictionary loads the configured dictionary. A missing or invalid file
// is returned as a configuration error for the caller to surface.
func (a *app) openDictionary() (*dictionary.Store, error) {
	return dictionary.Open(a.cfg.Dictionary.Path)
}

func (a *app) openOracle(ctx context.Context) (oracle.Oracle, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	o, err := oracle.New(ctx, a.cfg.Oracle)
	if err != nil {
		return nil, apperrors.NewConfigError("oracle", "failed to create oracle client", err)
	}
	return o, nil
}

// nilDictionary makes the pipeline report a missing dictionary itself.
type nilDictionary struct{}

func (nilDictionary) Current() *dictionary.Snapshot { return nil }

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
