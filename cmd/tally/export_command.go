package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/ipc"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var finalize bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Drain pending cast vote records to the export drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ExportCastVoteRecords(finalize)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Exported {
					fmt.Fprintln(stdout, "Nothing exported")
					return nil
				}
				if finalize {
					fmt.Fprintln(stdout, "Export finalized; completion marker written")
				} else {
					fmt.Fprintln(stdout, "Pending cast vote records exported")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&finalize, "finalize", false, "Also write the completion marker (rerun of the polls-closing export)")
	return cmd
}
