package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/auth"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store schema and seed the administrator",
	Long:  "Applies the schema for the configured store driver. When admin.email and admin.password are set, the administrator account is created if it does not exist.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))

		if cfg.Validate("seed") != nil {
			zap.L().Info("admin credentials not configured, skipping seed")
			return nil
		}
		created, err := auth.NewService(st).SeedAdmin(ctx, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			return err
		}
		zap.L().Info("admin seed", zap.String("email", cfg.Admin.Email), zap.Bool("created", created))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
