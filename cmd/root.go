package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/config"
)

// cfg is loaded once per invocation by the root pre-run and read by every
// subcommand.
var cfg *config.Config

var storeDriver string

// rootCmd loads config.yaml and CARRIER_* overrides, then installs the
// global logger. --store swaps the persistence backend for one run.
var rootCmd = &cobra.Command{
	Use:           "carrier-cli",
	Short:         "FMCSA carrier extraction and enrichment pipeline",
	Long:          "Extracts motor-carrier registrations by MC number, enriches them with insurance filings and safety ratings, and persists the results.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if cmd.Flags().Changed("store") {
			loaded.Store.Driver = storeDriver
		}
		if err := config.InitLogger(loaded.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = loaded
		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store", cfg.Store.Driver),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "store driver for this run: memory, sqlite or postgres")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
