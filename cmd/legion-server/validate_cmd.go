package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muellerberndt/legion-core/config"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the legion-core configuration",
	}
	cmd.AddCommand(newConfigValidateCmd(flags))
	return cmd
}

func newConfigValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration file and report any structural errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (webhook_port=%d, watchers=%v, scheduled_actions=%d)\n",
				flags.configPath, cfg.WebhookPort, cfg.ActiveWatchers, len(cfg.ScheduledActions))
			return nil
		},
	}
}
