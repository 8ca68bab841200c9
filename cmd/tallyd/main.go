// Command tallyd runs the precinct scanner daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tally/internal/config"
	"tally/internal/daemonrun"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	socketFlag := flag.String("socket", "", "IPC socket path override")
	flag.Parse()

	cfg, _, _, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "ensure directories: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		SocketPath: *socketFlag,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "tallyd: %v\n", err)
		os.Exit(1)
	}
}
