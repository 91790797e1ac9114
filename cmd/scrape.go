package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/batch"
	"github.com/sells-group/carrier-cli/internal/enrich"
	"github.com/sells-group/carrier-cli/internal/export"
	"github.com/sells-group/carrier-cli/internal/fetcher"
	"github.com/sells-group/carrier-cli/internal/model"
)

var (
	scrapeStart          string
	scrapeCount          int
	scrapeCarriers       bool
	scrapeBrokers        bool
	scrapeAuthorizedOnly bool
	scrapeMock           bool
	scrapeProxy          bool
	scrapeUser           string
	scrapeRoster         string
	scrapeEnrich         bool
	scrapeOut            string
	scrapeEnrichedOut    string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Extract carrier records for a range of MC numbers",
	Long:  "Fetches carrier snapshots for an MC range or roster file, filters them, persists accepted records, and chains insurance and safety enrichment.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("scrape"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		tracker, err := operatorTracker(ctx, st, scrapeUser)
		if err != nil {
			return err
		}

		runCfg := batch.Config{
			Start:           scrapeStart,
			Count:           scrapeCount,
			IncludeCarriers: scrapeCarriers,
			IncludeBrokers:  scrapeBrokers,
			OnlyAuthorized:  scrapeAuthorizedOnly,
			UseMockData:     scrapeMock,
			UseProxy:        scrapeProxy,
		}
		if scrapeRoster != "" {
			ids, err := fetcher.ReadRoster(ctx, scrapeRoster)
			if err != nil {
				return err
			}
			runCfg.Identifiers = ids
		}

		out := cmd.OutOrStdout()
		gw, _ := newGateway(st, true)
		lk := newLookup(gw, cfg.Fetch.PreferDirect)
		orch := batch.New(lk, tracker, st, batch.Options{
			Workers:        cfg.Batch.Workers,
			ProgressEvery:  cfg.Batch.ProgressEvery,
			SimulatedDelay: time.Duration(cfg.Batch.SimulatedDelayMs) * time.Millisecond,
			PersistRetries: cfg.Batch.PersistRetries,
			User:           tracker.Snapshot(),
			Blocklist:      st,
			Hooks: batch.Hooks{
				OnLog: printLine(out),
				OnProgress: func(done, total int) {
					zap.L().Debug("scrape progress", zap.Int("completed", done), zap.Int("total", total))
				},
			},
		})

		sum, err := orch.Run(ctx, runCfg)
		if err != nil {
			return eris.Wrap(err, "scrape")
		}

		if scrapeOut != "" {
			if err := export.WriteFile(scrapeOut, export.CarrierTable(sum.Records)); err != nil {
				return err
			}
			zap.L().Info("carriers exported", zap.String("path", scrapeOut), zap.Int("rows", len(sum.Records)))
		}

		if !sum.ChainEnrichment {
			return nil
		}
		autoStart := cfg.Enrich.AutoStart
		if cmd.Flags().Changed("enrich") {
			autoStart = scrapeEnrich
		}
		enriched, err := chainEnrichment(ctx, out, lk, st, sum.Records, autoStart)
		if err != nil {
			return err
		}
		if scrapeEnrichedOut != "" && enriched != nil {
			return export.WriteFile(scrapeEnrichedOut, export.EnrichedTable(enriched))
		}
		return nil
	},
}

func chainEnrichment(ctx context.Context, out io.Writer, src enrich.Source, sink enrich.Sink, records []model.Carrier, autoStart bool) ([]model.Carrier, error) {
	eo := enrich.New(src, sink, enrich.Options{
		ProgressEvery:  cfg.Enrich.ProgressEvery,
		PersistRetries: cfg.Batch.PersistRetries,
		Hooks:          enrich.Hooks{OnLog: printLine(out)},
	})
	res, started, err := enrich.NewAutoStarter(eo, autoStart).Observe(ctx, records)
	if err != nil {
		return nil, eris.Wrap(err, "enrich")
	}
	if !started {
		return nil, nil
	}
	return res.Records, nil
}

func printLine(out io.Writer) func(string) {
	return func(line string) {
		_, _ = fmt.Fprintln(out, line)
	}
}

func init() {
	f := scrapeCmd.Flags()
	f.StringVar(&scrapeStart, "start", "", "first MC number of the range")
	f.IntVar(&scrapeCount, "count", 10, "number of consecutive MC numbers to extract")
	f.BoolVar(&scrapeCarriers, "carriers", true, "accept records tagged CARRIER")
	f.BoolVar(&scrapeBrokers, "brokers", false, "accept records tagged BROKER")
	f.BoolVar(&scrapeAuthorizedOnly, "authorized-only", true, "accept only authorized operating statuses")
	f.BoolVar(&scrapeMock, "mock", false, "generate simulated records instead of fetching")
	f.BoolVar(&scrapeProxy, "proxy", false, "fetch through the public relays instead of direct")
	f.StringVar(&scrapeUser, "user", "", "email of the user the run is charged to")
	f.StringVar(&scrapeRoster, "roster", "", "CSV or XLSX file of MC numbers to extract instead of a range")
	f.BoolVar(&scrapeEnrich, "enrich", true, "run insurance and safety enrichment after extraction (default from enrich.auto_start)")
	f.StringVar(&scrapeOut, "out", "", "write accepted carriers to this .csv or .xlsx file")
	f.StringVar(&scrapeEnrichedOut, "enriched-out", "", "write the enriched dataset to this .csv or .xlsx file")
	rootCmd.AddCommand(scrapeCmd)
}
