package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/splunk/learning-labs-portal/internal/domain"
)

// wantJSON reports whether output should be JSON: when asked for, or when
// stdout is not a terminal.
func wantJSON(cmd *cobra.Command) bool {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return true
	}
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		return !term.IsTerminal(int(f.Fd()))
	}
	return false
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDeployments(cmd *cobra.Command, records ...*domain.Deployment) error {
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		if len(records) == 1 {
			return printJSON(out, records[0])
		}
		return printJSON(out, records)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOC\tSTATUS\tADDRESS\tUPDATED")
	for _, r := range records {
		addr := "-"
		if r.Host != "" {
			addr = fmt.Sprintf("%s:%d", r.Host, r.Port)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Status, addr, r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
