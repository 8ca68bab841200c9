// Package daemon is the composition root: it owns the store, the scanner
// machine, the export coordinator, and the polls ledger, and enforces
// single-instance execution with a file lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"tally/internal/config"
	"tally/internal/driver"
	"tally/internal/export"
	"tally/internal/interpret"
	"tally/internal/ledger"
	"tally/internal/logging"
	"tally/internal/machine"
	"tally/internal/store"
	"tally/internal/usbdrive"
)

// ErrPollsNotOpen indicates a scan attempt outside polls_open.
var ErrPollsNotOpen = errors.New("polls are not open")

// Daemon coordinates the scanner services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	machine  *machine.Machine
	exporter *export.Coordinator
	target   *export.Target
	ledger   *ledger.Ledger
	usb      *usbdrive.Monitor
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	DBPath         string
	LockFilePath   string
	ElectionID     string
	PrecinctID     string
	TestMode       bool
	PollsState     store.PollsState
	Scanner        machine.Status
	BallotsCounted int64
	CanUnconfigure bool
	DriveAttached  bool
	DriveDir       string
	PendingExports int
	ExportComplete bool
	OngoingBatch   *store.Batch
}

// New constructs a daemon with initialized dependencies. The scanner backend
// and interpreter are injected so the simulated device serves both the
// default configuration and the tests.
func New(cfg *config.Config, st *store.Store, scanner driver.Scanner, interp interpret.Interpreter, logger *slog.Logger, logPath string) (*Daemon, error) {
	if cfg == nil || st == nil || scanner == nil || interp == nil {
		return nil, errors.New("daemon requires config, store, scanner, and interpreter")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	target := export.NewTarget(cfg.Export.DriveDir, cfg.Export.MinFreeSpaceMiB)
	exporter := export.NewCoordinator(st, target, export.ElectionContext{
		ElectionID: cfg.Election.ElectionID,
		PrecinctID: cfg.Election.PrecinctID,
		TestMode:   cfg.Election.TestMode,
	}, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		exporter: exporter,
		target:   target,
		ledger:   ledger.New(st, logger),
		logPath:  logPath,
		lockPath: filepath.Join(cfg.Paths.LogDir, "tallyd.lock"),
	}
	d.lock = flock.New(d.lockPath)

	d.machine = machine.New(machine.Options{
		PollInterval:       time.Duration(cfg.Scanner.PollIntervalMillis) * time.Millisecond,
		ScanTimeout:        time.Duration(cfg.Scanner.ScanTimeoutMillis) * time.Millisecond,
		ReconnectDelay:     time.Duration(cfg.Scanner.ReconnectDelayMillis) * time.Millisecond,
		CalibrationTimeout: time.Duration(cfg.Scanner.CalibrationTimeout) * time.Millisecond,
		MaxScanAttempts:    cfg.Scanner.MaxScanAttempts,
		MaxConnectAttempts: cfg.Scanner.ReconnectAttempts,
	}, scanner, interp, &sheetSink{daemon: d}, logger)

	d.usb = usbdrive.NewMonitor(logger, func(ctx context.Context, device string) {
		d.exporter.Nudge()
	})
	return d, nil
}

// Start acquires the daemon lock and launches the export worker, the scanner
// machine, and the drive monitor.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tally daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.exporter.Start()
	d.machine.Start()
	if err := d.usb.Start(runCtx); err != nil {
		d.logger.Warn("usb drive monitor unavailable", logging.Error(err))
	}
	// Sheets left pending by an earlier run get retried right away.
	d.exporter.Nudge()

	d.running.Store(true)
	d.logger.Info("tally daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.usb.Stop()
	d.machine.Stop()
	d.exporter.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("tally daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stop"),
	)
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Scan feeds the waiting sheet. Only allowed while polls are open.
func (d *Daemon) Scan(ctx context.Context) error {
	state, err := d.store.CurrentPollsState(ctx)
	if err != nil {
		return err
	}
	if state != store.PollsOpen {
		return fmt.Errorf("%w (polls are %s)", ErrPollsNotOpen, state)
	}
	return d.machine.Scan()
}

// Accept drops the held sheet into the ballot bag.
func (d *Daemon) Accept(ctx context.Context) error {
	return d.machine.Accept()
}

// Return ejects the held sheet back to the voter.
func (d *Daemon) Return(ctx context.Context) error {
	return d.machine.Return()
}

// Calibrate runs sensor calibration and blocks until it finishes.
func (d *Daemon) Calibrate(ctx context.Context) error {
	return d.machine.Calibrate(ctx)
}

// SetPollsState applies one polls transition. Closing the polls triggers the
// finalizing export before the call returns.
func (d *Daemon) SetPollsState(ctx context.Context, to store.PollsState) (*ledger.Result, error) {
	result, err := d.ledger.TransitionPolls(ctx, to)
	if err != nil {
		return nil, err
	}
	if result.FinalExport {
		if err := d.exporter.Finalize(ctx); err != nil {
			// Polls are closed either way; the export can be rerun once
			// the drive is attached.
			logging.WarnWithContext(d.logger, "polls-closing export failed", "final_export_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cast vote records not yet on the drive"),
				logging.String(logging.FieldErrorHint, "attach the export drive and run tally export"),
			)
			return result, err
		}
	}
	return result, nil
}

// BallotBagReplaced closes the current batch and opens its successor.
func (d *Daemon) BallotBagReplaced(ctx context.Context) (*ledger.Result, error) {
	return d.ledger.ReplaceBallotBag(ctx)
}

// ExportCastVoteRecords drains every pending sheet to the drive.
func (d *Daemon) ExportCastVoteRecords(ctx context.Context) error {
	return d.exporter.ExportAll(ctx)
}

// FinalizeExport reruns the polls-closing export, including the completion
// marker. Useful when the drive was missing at close time.
func (d *Daemon) FinalizeExport(ctx context.Context) error {
	return d.exporter.Finalize(ctx)
}

// Batches lists all batches, newest first.
func (d *Daemon) Batches(ctx context.Context) ([]*store.BatchSummary, error) {
	return d.store.ListBatches(ctx)
}

// PollsTransitions returns the audit trail, oldest first.
func (d *Daemon) PollsTransitions(ctx context.Context) ([]*store.PollsTransition, error) {
	return d.store.PollsTransitions(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) store.DatabaseHealth {
	return d.store.Health(ctx)
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status. The ballot count is always read
// from the store, never cached.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		ElectionID:   d.cfg.Election.ElectionID,
		PrecinctID:   d.cfg.Election.PrecinctID,
		TestMode:     d.cfg.Election.TestMode,
		Scanner:      d.machine.Status(),
		DriveDir:     d.cfg.Export.DriveDir,
	}
	status.DriveAttached = d.target.Available() == nil

	state, err := d.store.CurrentPollsState(ctx)
	if err != nil {
		return status, err
	}
	status.PollsState = state

	ballots, err := d.store.BallotsCounted(ctx)
	if err != nil {
		return status, err
	}
	status.BallotsCounted = ballots

	pending, err := d.store.PendingExportSheets(ctx)
	if err != nil {
		return status, err
	}
	status.PendingExports = len(pending)

	complete, err := d.store.ExportMarkedComplete(ctx)
	if err != nil {
		return status, err
	}
	status.ExportComplete = complete
	status.CanUnconfigure = state == store.PollsClosedInitial ||
		(state == store.PollsClosedFinal && complete)

	ongoing, err := d.store.OngoingBatch(ctx)
	if err != nil {
		return status, err
	}
	status.OngoingBatch = ongoing
	return status, nil
}
