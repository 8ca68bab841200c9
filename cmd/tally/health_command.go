package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/ipc"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check ballot database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DatabaseHealth()
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Database Health", colorize) {
					fmt.Fprintln(stdout, line)
				}
				if err != nil {
					fmt.Fprintln(stdout, renderStatusLine("Database", statusError, err.Error(), colorize))
					return err
				}

				fmt.Fprintln(stdout, renderStatusLine("Path", statusInfo, resp.DBPath, colorize))
				if resp.DatabaseExists {
					fmt.Fprintln(stdout, renderStatusLine("Exists", statusOK, "yes", colorize))
				} else {
					fmt.Fprintln(stdout, renderStatusLine("Exists", statusError, "no", colorize))
				}
				fmt.Fprintln(stdout, renderStatusLine("Schema version", statusInfo, fmt.Sprintf("%d", resp.SchemaVersion), colorize))
				if resp.IntegrityCheck {
					fmt.Fprintln(stdout, renderStatusLine("Integrity", statusOK, "ok", colorize))
				} else {
					fmt.Fprintln(stdout, renderStatusLine("Integrity", statusError, "failed", colorize))
				}
				fmt.Fprintln(stdout, renderStatusLine("Sheets", statusInfo, countPrinter.Sprintf("%d", resp.TotalSheets), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Batches", statusInfo, countPrinter.Sprintf("%d", resp.TotalBatches), colorize))
				pendingKind := statusOK
				if resp.PendingExports > 0 {
					pendingKind = statusWarn
				}
				fmt.Fprintln(stdout, renderStatusLine("Pending exports", pendingKind, countPrinter.Sprintf("%d", resp.PendingExports), colorize))
				return nil
			})
		},
	}
}
