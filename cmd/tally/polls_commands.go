package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tally/internal/api"
	"tally/internal/ipc"
)

func newPollsCommand(ctx *commandContext) *cobra.Command {
	pollsCmd := &cobra.Command{
		Use:   "polls",
		Short: "Polls state transitions",
	}

	pollsCmd.AddCommand(newPollsTransitionCommand(ctx, "open", "Open the polls and start the first batch", "polls_open"))
	pollsCmd.AddCommand(newPollsTransitionCommand(ctx, "pause", "Pause voting and close the ongoing batch", "polls_paused"))
	pollsCmd.AddCommand(newPollsTransitionCommand(ctx, "resume", "Resume voting with a fresh batch", "polls_open"))
	pollsCmd.AddCommand(newPollsTransitionCommand(ctx, "close", "Close the polls for good and run the final export", "polls_closed_final"))

	return pollsCmd
}

func newPollsTransitionCommand(ctx *commandContext, use, short, target string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				resp, err := client.SetPollsState(target)
				if err != nil {
					return err
				}
				printPollsResult(stdout, resp)
				if resp.ExportError != "" {
					return fmt.Errorf("final export failed: %s (attach the drive and run `tally export --finalize`)", resp.ExportError)
				}
				return nil
			})
		},
	}
}

func printPollsResult(w io.Writer, resp *ipc.SetPollsResponse) {
	fmt.Fprintf(w, "Polls: %s -> %s\n", resp.From, resp.To)
	printBatchChange(w, resp.ClosedBatch, resp.OpenedBatch)
	if resp.FinalExport {
		fmt.Fprintln(w, "Final export requested")
	}
}

func printBatchChange(w io.Writer, closed, opened *api.BatchSummary) {
	if closed != nil {
		fmt.Fprintf(w, "Closed batch %d\n", closed.Number)
	}
	if opened != nil {
		fmt.Fprintf(w, "Opened batch %d\n", opened.Number)
	}
}

func newBagReplacedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "bag-replaced",
		Short: "Record a ballot bag replacement (closes the batch, opens the next)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BallotBagReplaced()
				if err != nil {
					return err
				}
				printBatchChange(cmd.OutOrStdout(), resp.ClosedBatch, resp.OpenedBatch)
				return nil
			})
		},
	}
}
