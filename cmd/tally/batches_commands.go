package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/ipc"
)

func newBatchesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "List ballot batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Batches()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Batches) == 0 {
					fmt.Fprintln(stdout, "No batches recorded")
					return nil
				}

				rows := make([][]string, 0, len(resp.Batches))
				for _, batch := range resp.Batches {
					ended := batch.EndedAt
					if ended == "" {
						ended = "ongoing"
					}
					rows = append(rows, []string{
						countPrinter.Sprintf("%d", batch.Number),
						batch.OpenReason,
						batch.CloseReason,
						batch.StartedAt,
						ended,
						countPrinter.Sprintf("%d", batch.Sheets),
						countPrinter.Sprintf("%d", batch.BallotsCounted),
					})
				}
				table := renderTable(
					[]string{"Batch", "Opened By", "Closed By", "Started", "Ended", "Sheets", "Ballots"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}
}

func newTransitionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transitions",
		Short: "Show the polls-state audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PollsTransitions()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Transitions) == 0 {
					fmt.Fprintln(stdout, "No transitions recorded")
					return nil
				}

				rows := make([][]string, 0, len(resp.Transitions))
				for _, tr := range resp.Transitions {
					rows = append(rows, []string{
						tr.At,
						tr.From,
						tr.To,
						tr.Reason,
						countPrinter.Sprintf("%d", tr.BallotsCounted),
					})
				}
				table := renderTable(
					[]string{"At", "From", "To", "Reason", "Ballots"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}
}
