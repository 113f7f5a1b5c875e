package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/app"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
)

type rootOptions struct {
	configPath string
	debug      bool

	// now is the clock for the previous-month default
	now func() time.Time
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{now: time.Now}

	root := &cobra.Command{
		Use:   "billctl",
		Short: "Monthly billing from tracked time",
		Long: `billctl turns a month of tracked time into invoices and timesheets.

Configuration is read from --config, $BILLING_CONFIG or
$XDG_CONFIG_HOME/billing-engine/config.yaml. Every run is recorded
in the run ledger.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "debug logging")

	root.AddCommand(newInvoiceCmd(opts))
	root.AddCommand(newSheetCmd(opts))
	root.AddCommand(newRunsCmd(opts))
	root.AddCommand(newCustomersCmd(opts))
	root.AddCommand(newSyncCmd(opts))
	return root
}

// open loads the configuration and connects the collaborators. Logs go
// to the command's stderr.
func (o *rootOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return app.New(cmd.Context(), cfg, logger)
}

// =============================================================================
// PERIOD FLAGS - shared by invoice and sheet
// =============================================================================

type periodFlags struct {
	month string
	from  string
	to    string

	labelWhitelist    []string
	labelBlacklist    []string
	customerWhitelist []string
	customerBlacklist []string
}

func (p *periodFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.month, "month", "", "month to bill, YYYY-MM (default: previous month)")
	f.StringVar(&p.from, "from", "", "first day, YYYY-MM-DD (with --to)")
	f.StringVar(&p.to, "to", "", "last day, YYYY-MM-DD (with --from)")
	f.StringSliceVar(&p.labelWhitelist, "label", nil, "only entries with one of these tags")
	f.StringSliceVar(&p.labelBlacklist, "skip-label", nil, "skip entries with one of these tags")
	f.StringSliceVar(&p.customerWhitelist, "customer", nil, "only these customers (name or ref)")
	f.StringSliceVar(&p.customerBlacklist, "skip-customer", nil, "skip these customers (name or ref)")
}

// request turns the flags into the same request the HTTP API takes.
// Flags that were not given leave the configured defaults in place.
func (p *periodFlags) request(cmd *cobra.Command) (api.RunRequest, error) {
	req := api.RunRequest{From: p.from, To: p.to}
	if p.month != "" {
		m, err := time.Parse("2006-01", p.month)
		if err != nil {
			return req, fmt.Errorf("%w: --month %q, want YYYY-MM", billing.ErrInvalidRange, p.month)
		}
		req.Year, req.Month = m.Year(), int(m.Month())
	}

	changed := cmd.Flags().Changed
	if changed("label") {
		req.LabelWhitelist = nonNil(p.labelWhitelist)
	}
	if changed("skip-label") {
		req.LabelBlacklist = nonNil(p.labelBlacklist)
	}
	if changed("customer") {
		req.CustomerWhitelist = nonNil(p.customerWhitelist)
	}
	if changed("skip-customer") {
		req.CustomerBlacklist = nonNil(p.customerBlacklist)
	}
	return req, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatPeriod(r billing.DateRange) string {
	return r.From.Format("2006-01-02") + " .. " + r.To.Format("2006-01-02")
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
