package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/exceptions"
)

func (a *app) newClassifyCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "classify [CONTAINER...]",
		Short: "Re-evaluate exception flags",
		Long: `Classify re-runs the exception rules. With no arguments every stored
container is evaluated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx, dryRun)
			if err != nil {
				return err
			}
			defer closeStore()

			o, err := a.openOracle(ctx)
			if err != nil {
				return err
			}
			classifier := exceptions.NewClassifier(store, o, exceptions.Options{
				StalenessDays:   a.cfg.Pipeline.StalenessDays,
				CustomsHoldDays: a.cfg.Pipeline.CustomsHoldDays,
				Workers:         a.cfg.Pipeline.Workers,
			})

			var summary exceptions.Summary
			if len(args) == 0 {
				summary, err = classifier.ClassifyAll(ctx)
			} else {
				numbers := make([]string, 0, len(args))
				for _, arg := range args {
					key, ok := domain.IdentityKey(arg, a.cfg.Pipeline.MinIdentityLength)
					if !ok {
						return apperrors.NewValidationError("container_number", arg, "not a valid container number")
					}
					numbers = append(numbers, key)
				}
				summary, err = classifier.ClassifyContainers(ctx, nil, numbers)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store instead of Postgres")
	return cmd
}
