package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "lifeauto",
		Short:         "Rule-based automation engine for personal routines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "./lifeauto.yaml", "path to config file (yaml or json)")

	cmd.AddCommand(
		newServeCommand(opts),
		newTickCommand(opts),
		newSeedCommand(opts),
		newValidateCommand(),
	)
	return cmd
}
