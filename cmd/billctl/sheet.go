package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/warp/billing-engine/timesheet"
)

func newSheetCmd(root *rootOptions) *cobra.Command {
	var (
		period  periodFlags
		outDir  string
		formats []string
	)
	cmd := &cobra.Command{
		Use:   "sheet",
		Short: "Write timesheets for a period",
		Long: `Write one timesheet per billing unit into --out. Nothing is submitted
and no entry is tagged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, f := range formats {
				if f != "csv" && f != "html" && f != "pdf" {
					return fmt.Errorf("unknown format %q (want csv, html or pdf)", f)
				}
			}

			a, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := period.request(cmd)
			if err != nil {
				return err
			}
			cfg, err := req.Config(root.now(), a.Location, a.Config.Defaults)
			if err != nil {
				return err
			}

			res, err := a.Pipeline.Sheets(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			renderer := timesheet.NewPDFRenderer()
			for _, sheet := range res.Sheets {
				for _, format := range formats {
					data, err := renderSheet(cmd, renderer, sheet, format)
					if err != nil {
						return fmt.Errorf("%s: %w", sheet.Name, err)
					}
					path := filepath.Join(outDir, sheet.FileName(format))
					if err := os.WriteFile(path, data, 0o644); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
			}
			return nil
		},
	}
	period.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().StringSliceVar(&formats, "format", []string{"csv"}, "formats to write: csv, html, pdf")
	return cmd
}

func renderSheet(cmd *cobra.Command, pdf timesheet.Renderer, sheet timesheet.Sheet, format string) ([]byte, error) {
	switch format {
	case "html":
		html, err := sheet.HTML()
		return []byte(html), err
	case "pdf":
		return pdf.Render(cmd.Context(), sheet)
	default:
		return []byte(sheet.CSV()), nil
	}
}
