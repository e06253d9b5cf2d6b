package main

import (
	"github.com/spf13/cobra"
)

// globalFlags holds the flags shared by every subcommand.
type globalFlags struct {
	configPath       string
	anthropicAPIKey  string
	useTemporal      bool
	temporalHostPort string
	temporalNS       string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "legion-server",
		Short: "Run the legion-core autonomous security research agent",
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "legion.yml", "path to the configuration file")
	root.PersistentFlags().StringVar(&flags.anthropicAPIKey, "anthropic-api-key", "", "Anthropic API key (falls back to ANTHROPIC_API_KEY)")
	root.PersistentFlags().BoolVar(&flags.useTemporal, "temporal", false, "dispatch jobs through a Temporal worker instead of running them in-process")
	root.PersistentFlags().StringVar(&flags.temporalHostPort, "temporal-host-port", "localhost:7233", "Temporal frontend address")
	root.PersistentFlags().StringVar(&flags.temporalNS, "temporal-namespace", "default", "Temporal namespace")

	root.AddCommand(newServerCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	return root
}
