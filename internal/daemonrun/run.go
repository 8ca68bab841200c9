// Package daemonrun hosts the tallyd process runtime: logging, pid file,
// store, daemon services, and the IPC server, torn down on signal or on an
// IPC stop request.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tally/internal/config"
	"tally/internal/daemon"
	"tally/internal/driver"
	"tally/internal/driver/simscanner"
	"tally/internal/interpret"
	"tally/internal/ipc"
	"tally/internal/logging"
	"tally/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// SocketPath overrides the IPC socket location. Empty uses
	// <log_dir>/tallyd.sock.
	SocketPath string
}

// Run starts the tally daemon runtime loop and blocks until shutdown.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logger, logPath, err := logging.NewFromConfig(cfg, runID)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update tallyd.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "tallyd-*.log", Exclude: []string{logPath}},
	)

	pidPath := filepath.Join(cfg.Paths.LogDir, "tallyd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	scanner, err := buildScanner(cfg)
	if err != nil {
		_ = st.Close()
		return err
	}

	d, err := daemon.New(cfg, st, scanner, interpret.NewStatic(), logger, logPath)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = filepath.Join(cfg.Paths.LogDir, "tallyd.sock")
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger, cancel)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another running instance and data directory access"),
			logging.String(logging.FieldImpact, "scanner is not operational"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("tally daemon shutting down")
	return nil
}

func buildScanner(cfg *config.Config) (driver.Scanner, error) {
	if cfg.SimulatedDevice() {
		return simscanner.New(), nil
	}
	return nil, fmt.Errorf("unsupported scanner device %q: only the %q backend is available", cfg.Scanner.Device, "sim")
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "tallyd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
