package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/carrier-cli/internal/auth"
	"github.com/sells-group/carrier-cli/internal/monitoring"
	"github.com/sells-group/carrier-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scraping backend server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		gw, breakers := newGateway(st, false)
		if cfg.Monitoring.CheckIntervalSecs > 0 {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st, breakers),
				monitoring.NewAlerter(cfg.Monitoring),
				time.Duration(cfg.Monitoring.CheckIntervalSecs)*time.Second,
			)
			go checker.Run(ctx)
		}

		srv := server.New(server.Deps{
			Lookup:      newLookup(gw, true),
			Carriers:    st,
			Blocklist:   st,
			Accounts:    auth.NewService(st),
			CORSOrigins: cfg.Server.CORSOrigins,
		})
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
