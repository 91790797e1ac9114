package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/export"
	"github.com/sells-group/carrier-cli/internal/model"
)

var (
	exportEnriched bool
	exportSearch   string
	exportOut      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored carriers as CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		carriers, err := st.ListCarriers(ctx)
		if err != nil {
			return eris.Wrap(err, "export: list carriers")
		}
		carriers = model.SearchCarriers(carriers, exportSearch)

		tbl := export.CarrierTable(carriers)
		if exportEnriched {
			tbl = export.EnrichedTable(carriers)
		}

		if exportOut == "" {
			return export.WriteCSV(cmd.OutOrStdout(), tbl)
		}
		if err := export.WriteFile(exportOut, tbl); err != nil {
			return err
		}
		zap.L().Info("export written", zap.String("path", exportOut), zap.Int("rows", len(tbl.Rows)))
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportEnriched, "enriched", false, "export the insurance and safety dataset")
	exportCmd.Flags().StringVar(&exportSearch, "search", "", "only export carriers matching this MC, DOT, or name")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output .csv or .xlsx path (default stdout CSV)")
	rootCmd.AddCommand(exportCmd)
}
