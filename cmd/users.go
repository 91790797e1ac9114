package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/auth"
	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/quota"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts and quotas",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users with their plan and daily usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		users, err := st.ListUsers(ctx)
		if err != nil {
			return eris.Wrap(err, "users: list")
		}
		formatUsers(cmd.OutOrStdout(), users)
		return nil
	},
}

var (
	userName     string
	userEmail    string
	userPassword string
	userPlan     string
)

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		u, err := auth.NewService(st).Register(ctx, userName, userEmail, userPassword, "")
		if err != nil {
			return err
		}
		if plan := model.Plan(userPlan); plan != "" && plan != u.Plan {
			u.Plan = plan
			u.DailyLimit = quota.LimitFor(plan)
			if err := st.UpdateUser(ctx, *u); err != nil {
				return eris.Wrap(err, "users: set plan")
			}
		}
		zap.L().Info("user added", zap.String("id", u.ID), zap.String("email", u.Email), zap.String("plan", string(u.Plan)))
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <email>",
	Short: "Delete a non-admin user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		u, err := st.GetUserByEmail(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "users: find %s", args[0])
		}
		if err := st.DeleteUser(ctx, u.ID); err != nil {
			return err
		}
		zap.L().Info("user deleted", zap.String("email", u.Email))
		return nil
	},
}

var usersResetCmd = &cobra.Command{
	Use:   "reset-quota <email>",
	Short: "Reset a user's daily extraction count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		tracker, err := operatorTracker(ctx, st, args[0])
		if err != nil {
			return err
		}
		return tracker.ResetDaily(ctx)
	},
}

// formatUsers writes a tabular listing of users to out.
func formatUsers(out io.Writer, users []model.User) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EMAIL\tNAME\tROLE\tPLAN\tUSED\tLIMIT\tLAST ACTIVE\tIP")
	_, _ = fmt.Fprintln(w, "-----\t----\t----\t----\t----\t-----\t-----------\t--")
	for _, u := range users {
		last := "-"
		if !u.LastActive.IsZero() {
			last = u.LastActive.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			u.Email, u.Name, u.Role, u.Plan, u.RecordsExtractedToday, u.DailyLimit, last, u.IPAddress)
	}
	_ = w.Flush()
}

func init() {
	usersAddCmd.Flags().StringVar(&userName, "name", "", "display name")
	usersAddCmd.Flags().StringVar(&userEmail, "email", "", "login email")
	usersAddCmd.Flags().StringVar(&userPassword, "password", "", "login password")
	usersAddCmd.Flags().StringVar(&userPlan, "plan", string(model.PlanFree), "subscription plan (Free, Starter, Pro, Enterprise)")

	usersCmd.AddCommand(usersListCmd, usersAddCmd, usersDeleteCmd, usersResetCmd)
	rootCmd.AddCommand(usersCmd)
}
