package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/model"
)

var ipsCmd = &cobra.Command{
	Use:   "ips",
	Short: "Manage the client IP blocklist",
}

var ipsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked IPs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		ips, err := st.ListBlockedIPs(ctx)
		if err != nil {
			return eris.Wrap(err, "ips: list")
		}
		formatBlockedIPs(cmd.OutOrStdout(), ips)
		return nil
	},
}

var blockReasonFlag string

var ipsBlockCmd = &cobra.Command{
	Use:   "block <ip>",
	Short: "Block a client IP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.BlockIP(ctx, args[0], blockReasonFlag); err != nil {
			return err
		}
		zap.L().Info("ip blocked", zap.String("ip", args[0]))
		return nil
	},
}

var ipsUnblockCmd = &cobra.Command{
	Use:   "unblock <ip>",
	Short: "Remove a client IP from the blocklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.UnblockIP(ctx, args[0]); err != nil {
			return err
		}
		zap.L().Info("ip unblocked", zap.String("ip", args[0]))
		return nil
	},
}

func formatBlockedIPs(out io.Writer, ips []model.BlockedIP) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "IP\tBLOCKED AT\tREASON")
	_, _ = fmt.Fprintln(w, "--\t----------\t------")
	for _, b := range ips {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", b.IP, b.BlockedAt.Format("2006-01-02 15:04"), b.Reason)
	}
	_ = w.Flush()
}

func init() {
	ipsBlockCmd.Flags().StringVar(&blockReasonFlag, "reason", "", "why the IP is blocked")
	ipsCmd.AddCommand(ipsListCmd, ipsBlockCmd, ipsUnblockCmd)
	rootCmd.AddCommand(ipsCmd)
}
