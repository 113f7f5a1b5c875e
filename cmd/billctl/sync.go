package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/billing-engine/mirror"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Copy the directory into the invoicing system and the time tracker",
		Long: `sync creates or updates products and customers in the invoicing
system, then clients and projects in the time tracker, so that both
match the directory. Nothing is deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Mirror.Sync(cmd.Context())
			printReport(cmd, report)
			return err
		},
	}
}

// printReport lists the finished steps, also when a later one failed.
func printReport(cmd *cobra.Command, report *mirror.Report) {
	if report == nil || len(report.Steps) == 0 {
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tCREATED\tUPDATED\tUNCHANGED")
	for _, s := range report.Steps {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", s.Step, s.Changes.Created, s.Changes.Updated, s.Changes.Unchanged)
	}
	w.Flush()
}
