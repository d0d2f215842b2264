package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpattn/shiprecon/internal/dictionary"
)

func (a *app) newDictionaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dictionary",
		Short: "Manage the canonical dictionary file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in dictionary to the configured path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfg.Dictionary.Path
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := dictionary.Save(path, dictionary.Default()); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of the configured dictionary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openDictionary()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), store.Current().Version())
			return err
		},
	}

	cmd.AddCommand(initCmd, versionCmd)
	return cmd
}
