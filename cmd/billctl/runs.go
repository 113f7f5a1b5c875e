package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/billing-engine/billing"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recorded runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				run, err := a.Store.LoadRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printRun(cmd, run)
				return nil
			}

			runs, err := a.Store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPERIOD\tSTARTED\tUNITS\tFAILED\tDRY")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%t\n",
					r.ID, r.Kind, formatPeriod(r.Range), r.StartedAt.Local().Format("2006-01-02 15:04"),
					len(r.Outcomes), r.Failed(), r.DryRun)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0 = all)")
	return cmd
}

func printRun(cmd *cobra.Command, run billing.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run          %s\n", run.ID)
	fmt.Fprintf(out, "kind         %s\n", run.Kind)
	fmt.Fprintf(out, "period       %s\n", formatPeriod(run.Range))
	fmt.Fprintf(out, "dry run      %t\n", run.DryRun)
	fmt.Fprintf(out, "entries      %d\n", run.Entries)
	fmt.Fprintf(out, "fingerprint  %s\n", run.Fingerprint)
	fmt.Fprintf(out, "took         %s\n\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tCOMPANY\tSTATUS\tHOURS\tINVOICE\tERROR")
	for _, o := range run.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Unit, o.Company, o.Status, o.Hours, o.InvoiceID, truncate(o.Error, 60))
	}
	w.Flush()
}
