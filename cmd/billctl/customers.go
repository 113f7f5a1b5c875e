package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/billing-engine/billing"
)

func newCustomersCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "customers",
		Short: "List the directory's customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			customers, err := a.Catalog.ListCustomers(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REF\tNAME\tCOMPANY\tLOCALE\tFLAGS")
			for _, c := range customers {
				company := string(c.CompanyRef)
				if company == "" {
					company = "(default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Ref, c.Name, company, c.Locale.LanguageCode(), flagList(c.Flags))
			}
			return w.Flush()
		},
	}
}

func flagList(f billing.Flags) string {
	var out []string
	for _, flag := range []struct {
		on   bool
		name string
	}{
		{f.AttachTimesheet, "attach_timesheet"},
		{f.BillPerProject, "bill_per_project"},
		{f.BookInvoice, "book_invoice"},
		{f.SendEmail, "send_email"},
		{f.ListByDates, "list_by_dates"},
		{f.ListByProjects, "list_by_projects"},
	} {
		if flag.on {
			out = append(out, flag.name)
		}
	}
	return strings.Join(out, ",")
}
