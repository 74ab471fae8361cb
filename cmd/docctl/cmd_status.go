package main

import (
	"github.com/spf13/cobra"

	"github.com/splunk/learning-labs-portal/internal/domain"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <doc-id>...",
		Short: "Show the deployment status of documents",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	records := make([]*domain.Deployment, 0, len(args))
	for _, docID := range args {
		record, err := app.Service.DeploymentInfo(cmd.Context(), docID)
		if err != nil {
			return err
		}
		records = append(records, record)
	}
	return printDeployments(cmd, records...)
}
