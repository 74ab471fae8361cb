package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestartAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart-all",
		Short: "Stop and redeploy every catalog document",
		Args:  cobra.NoArgs,
		RunE:  runRestartAll,
	}
}

func runRestartAll(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Service.RestartCatalog(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "all documents restarted")
	return nil
}
