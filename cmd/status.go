package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/carrier-cli/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dataset health and evaluate alert thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx)
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		alerter.SendAlerts(ctx, alerts)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*monitoring.Snapshot
			Alerts []monitoring.Alert `json:"alerts"`
		}{snap, alerts})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
