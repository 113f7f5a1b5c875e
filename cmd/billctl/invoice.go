package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/billing-engine/pipeline"
)

func newInvoiceCmd(root *rootOptions) *cobra.Command {
	var (
		period    periodFlags
		dryRun    bool
		setBilled bool
	)
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Create invoices for a period",
		Long: `Create one draft invoice per customer (or per project for customers
billed per project). Customers flagged for booking are booked, and
mailed when flagged for sending. With --dry-run nothing is submitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := period.request(cmd)
			if err != nil {
				return err
			}
			req.DryRun = dryRun
			if cmd.Flags().Changed("set-billed") {
				req.SetBilled = &setBilled
			}
			cfg, err := req.Config(root.now(), a.Location, a.Config.Defaults)
			if err != nil {
				return err
			}

			res, err := a.Pipeline.Invoice(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printInvoiceRun(cmd, res)

			if failed := len(res.Report.Failed()); failed > 0 {
				return fmt.Errorf("%d of %d invoices failed", failed, len(res.Report.Results))
			}
			return nil
		},
	}
	period.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build invoices without submitting")
	cmd.Flags().BoolVar(&setBilled, "set-billed", false, "tag invoiced entries as billed (default from config)")
	return cmd
}

func printInvoiceRun(cmd *cobra.Command, res *pipeline.InvoiceRun) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s  %s", res.Run.ID, formatPeriod(res.Run.Range))
	if res.Run.DryRun {
		fmt.Fprint(out, "  (dry run)")
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tSTATUS\tHOURS\tNET\tINVOICE\tERROR")
	for _, r := range res.Report.Results {
		id := ""
		if r.Invoice != nil {
			id = r.Invoice.ID
			if r.Invoice.Number != "" {
				id = r.Invoice.Number
			}
		}
		errText := ""
		if r.Err != nil {
			errText = truncate(r.Err.Error(), 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Unit.Name(), r.Status, r.Request.Hours(), r.Request.NetTotal().StringFixed(2), id, errText)
	}
	w.Flush()

	if res.Billed > 0 {
		fmt.Fprintf(out, "%d entries tagged as billed\n", res.Billed)
	}
}
