package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <doc-id>",
		Short: "Deploy a document image pinned by digest",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeploy,
	}
	cmd.Flags().String("image", "", "Image repository, e.g. registry.example.com/labs/intro")
	cmd.Flags().String("digest", "", "Image digest, e.g. sha256:...")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("digest")
	return cmd
}

func runDeploy(cmd *cobra.Command, args []string) error {
	image, _ := cmd.Flags().GetString("image")
	digest, _ := cmd.Flags().GetString("digest")

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	record, outcome, err := app.Service.StartDoc(cmd.Context(), args[0], image, digest)
	if err != nil {
		return err
	}
	if err := printDeployments(cmd, record); err != nil {
		return err
	}
	if !outcome.Ready() {
		return fmt.Errorf("deployment of %s failed: %w", args[0], outcome.Err)
	}
	return nil
}
