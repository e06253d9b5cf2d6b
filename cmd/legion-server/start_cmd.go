package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muellerberndt/legion-core/config"
)

const shutdownGracePeriod = 15 * time.Second

func newServerCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the legion-core server",
	}
	cmd.AddCommand(newServerStartCmd(flags))
	return cmd
}

func newServerStartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Load the configuration, construct every component, and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServerStart(cmd.Context(), flags)
		},
	}
}

func runServerStart(ctx context.Context, flags *globalFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	apiKey := flags.anthropicAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Build(ctx, cfg, buildOptions{
		anthropicAPIKey:  apiKey,
		useTemporal:      flags.useTemporal,
		temporalHostPort: flags.temporalHostPort,
		temporalNS:       flags.temporalNS,
	})
	if err != nil {
		return fmt.Errorf("legion-server: failed to build app: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "legion-server: shutting down")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGracePeriod)
	defer cancel()
	return app.Stop(stopCtx)
}
