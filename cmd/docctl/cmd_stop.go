package main

import (
	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <doc-id>",
		Short: "Stop a document's container and mark it not deployed",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	record, err := app.Service.StopDoc(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printDeployments(cmd, record)
}
