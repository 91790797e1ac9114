package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/carrier-cli/internal/enrich"
	"github.com/sells-group/carrier-cli/internal/export"
	"github.com/sells-group/carrier-cli/internal/model"
)

var (
	enrichDOT    string
	enrichSearch string
	enrichOut    string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Attach insurance filings and safety ratings to stored carriers",
	Long:  "Runs the insurance stage then the safety stage over every stored carrier, or looks up a single DOT number with --dot without saving.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		out := cmd.OutOrStdout()
		gw, _ := newGateway(st, true)
		lk := newLookup(gw, cfg.Fetch.PreferDirect)
		eo := enrich.New(lk, st, enrich.Options{
			ProgressEvery:  cfg.Enrich.ProgressEvery,
			PersistRetries: cfg.Batch.PersistRetries,
			Hooks:          enrich.Hooks{OnLog: printLine(out)},
		})

		if enrichDOT != "" {
			res, err := eo.Check(ctx, enrichDOT)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		carriers, err := st.ListCarriers(ctx)
		if err != nil {
			return eris.Wrap(err, "enrich: list carriers")
		}
		carriers = model.SearchCarriers(carriers, enrichSearch)

		res, err := eo.Run(ctx, carriers)
		if err != nil {
			return eris.Wrap(err, "enrich")
		}
		if enrichOut != "" {
			return export.WriteFile(enrichOut, export.EnrichedTable(res.Records))
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichDOT, "dot", "", "look up one DOT number without saving")
	enrichCmd.Flags().StringVar(&enrichSearch, "search", "", "only enrich carriers matching this MC, DOT, or name")
	enrichCmd.Flags().StringVar(&enrichOut, "out", "", "write the enriched dataset to this .csv or .xlsx file")
	rootCmd.AddCommand(enrichCmd)
}
