package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/ipc"
)

func newScannerCommands(ctx *commandContext) []*cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Feed and interpret the waiting sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Scan()
				if err != nil {
					return err
				}
				if !resp.Accepted {
					return fmt.Errorf("scan refused: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scanning...")
				return nil
			})
		},
	}

	acceptCmd := &cobra.Command{
		Use:   "accept",
		Short: "Count the held sheet after review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Accept()
				if err != nil {
					return err
				}
				if !resp.Accepted {
					return fmt.Errorf("accept refused: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Accepting sheet...")
				return nil
			})
		},
	}

	returnCmd := &cobra.Command{
		Use:   "return",
		Short: "Return the held sheet to the voter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Return()
				if err != nil {
					return err
				}
				if !resp.Accepted {
					return fmt.Errorf("return refused: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Returning sheet...")
				return nil
			})
		},
	}

	calibrateCmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run scanner sensor calibration (transport must be empty)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				fmt.Fprintln(cmd.OutOrStdout(), "Calibrating...")
				resp, err := client.Calibrate()
				if err != nil {
					return err
				}
				if !resp.Calibrated {
					return fmt.Errorf("calibration failed: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Calibration complete")
				return nil
			})
		},
	}

	return []*cobra.Command{scanCmd, acceptCmd, returnCmd, calibrateCmd}
}
