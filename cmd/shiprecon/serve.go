package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/pipeline"
	"github.com/rpattn/shiprecon/internal/server"
)

func (a *app) newServeCmd() *cobra.Command {
	var (
		addr     string
		inMemory bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve batch status and container records over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			store, closeStore, err := a.openStore(ctx, inMemory)
			if err != nil {
				return err
			}
			defer closeStore()

			var runner server.BatchRunner
			dict, err := a.openDictionary()
			if err != nil {
				log.Warn().Err(err).Msg("Uploads disabled: no dictionary")
			} else {
				o, err := a.openOracle(ctx)
				if err != nil {
					return err
				}
				runner = pipeline.NewRunner(store, o, dict, pipeline.Options{
					Pipeline:  a.cfg.Pipeline,
					Preflight: a.cfg.Validate,
				})
			}

			sc := a.cfg.Server
			if addr != "" {
				sc.Addr = addr
			}
			return server.New(store, runner, sc, log).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&inMemory, "memory", false, "use an in-memory store instead of Postgres")
	return cmd
}
