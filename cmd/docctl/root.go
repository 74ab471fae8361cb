package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/splunk/learning-labs-portal/internal/app/bootstrap"
	"github.com/splunk/learning-labs-portal/pkg/config"
	"github.com/splunk/learning-labs-portal/pkg/logger"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "docctl",
		Short:         "Operate workshop document deployments",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().Bool("json", false, "Output as JSON")
	cmd.PersistentFlags().Bool("verbose", false, "Log deployment steps to stderr")

	cmd.AddCommand(
		newStatusCmd(),
		newDeployCmd(),
		newStopCmd(),
		newRestartAllCmd(),
		newHashPasswordCmd(),
	)

	return cmd
}

// openApp wires the deployment service the daemon uses, against the same
// docker engine and store.
func openApp(cmd *cobra.Command) (*bootstrap.App, error) {
	cfg, err := config.LoadPortalConfig()
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		log = logger.New("docctl", logger.ParseLevel(cfg.LogLevel))
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := bootstrap.Build(ctx, cfg, nil, log)
	if err != nil {
		return nil, err
	}
	return app, nil
}
