package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tally/internal/driver/simscanner"
	"tally/internal/interpret"
	"tally/internal/ledger"
	"tally/internal/logging"
	"tally/internal/machine"
	"tally/internal/store"
	"tally/internal/testsupport"
)

func newTestDaemon(t *testing.T) (*Daemon, *simscanner.Device, *interpret.Static, string) {
	t.Helper()
	driveDir := t.TempDir()
	cfg := testsupport.NewConfig(t, testsupport.WithExportDrive(driveDir))
	st := testsupport.MustOpenStore(t, cfg)
	device := simscanner.New()
	interp := interpret.NewStatic()

	d, err := New(cfg, st, device, interp, logging.NewNop(), "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, device, interp, driveDir
}

func waitForScanner(t *testing.T, d *Daemon, state machine.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if d.machine.Status().State == state {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for scanner state %s (at %s)", state, d.machine.Status().State)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func waitForBallots(t *testing.T, d *Daemon, want int64) {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(2 * time.Second)
	for {
		status, err := d.Status(ctx)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.BallotsCounted == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d ballots (at %d)", want, status.BallotsCounted)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestScanRequiresOpenPolls(t *testing.T) {
	d, device, _, _ := newTestDaemon(t)
	ctx := context.Background()
	waitForScanner(t, d, machine.StateNoPaper)

	device.LoadSheet(interpret.SheetImages{})
	waitForScanner(t, d, machine.StateReadyToScan)

	if err := d.Scan(ctx); !errors.Is(err, ErrPollsNotOpen) {
		t.Fatalf("scan with polls closed = %v, want ErrPollsNotOpen", err)
	}
}

func TestVotingDayLifecycle(t *testing.T) {
	d, device, _, driveDir := newTestDaemon(t)
	ctx := context.Background()
	waitForScanner(t, d, machine.StateNoPaper)

	result, err := d.SetPollsState(ctx, store.PollsOpen)
	if err != nil {
		t.Fatalf("open polls: %v", err)
	}
	if result.OpenedBatch == nil || result.OpenedBatch.Number != 1 {
		t.Fatalf("opened batch = %+v", result.OpenedBatch)
	}

	// First voter.
	device.LoadSheet(interpret.SheetImages{Front: "a-front.png", Back: "a-back.png"})
	waitForScanner(t, d, machine.StateReadyToScan)
	if err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	waitForScanner(t, d, machine.StateReadyToAccept)
	if err := d.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitForBallots(t, d, 1)

	// Bag replacement rolls the batch.
	bag, err := d.BallotBagReplaced(ctx)
	if err != nil {
		t.Fatalf("bag replaced: %v", err)
	}
	if bag.ClosedBatch == nil || bag.OpenedBatch == nil {
		t.Fatalf("bag result = %+v", bag)
	}
	if bag.OpenedBatch.Number != bag.ClosedBatch.Number+1 {
		t.Fatalf("batch numbers: closed %d opened %d", bag.ClosedBatch.Number, bag.OpenedBatch.Number)
	}

	// Second voter lands in the new batch.
	waitForScanner(t, d, machine.StateNoPaper)
	device.LoadSheet(interpret.SheetImages{Front: "b-front.png", Back: "b-back.png"})
	waitForScanner(t, d, machine.StateReadyToScan)
	if err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	waitForScanner(t, d, machine.StateReadyToAccept)
	if err := d.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitForBallots(t, d, 2)

	// Closing polls runs the finalizing export.
	result, err = d.SetPollsState(ctx, store.PollsClosedFinal)
	if err != nil {
		t.Fatalf("close polls: %v", err)
	}
	if !result.FinalExport {
		t.Fatal("closing polls must request the final export")
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.PollsState != store.PollsClosedFinal {
		t.Fatalf("polls state = %s", status.PollsState)
	}
	if status.PendingExports != 0 || !status.ExportComplete || !status.CanUnconfigure {
		t.Fatalf("export status = %+v", status)
	}

	entries, err := os.ReadDir(driveDir)
	if err != nil {
		t.Fatalf("read drive: %v", err)
	}
	var haveRecords, haveMarker bool
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".jsonl") {
			haveRecords = true
		}
		if strings.HasSuffix(entry.Name(), ".complete") {
			haveMarker = true
		}
	}
	if !haveRecords || !haveMarker {
		t.Fatalf("drive missing export artifacts: records=%v marker=%v", haveRecords, haveMarker)
	}

	batches, err := d.Batches(ctx)
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	for _, batch := range batches {
		if batch.Ongoing() {
			t.Fatalf("batch %d still ongoing after close", batch.Number)
		}
	}
}

func TestClosePollsWithMissingDrive(t *testing.T) {
	d, device, _, _ := newTestDaemon(t)
	ctx := context.Background()
	waitForScanner(t, d, machine.StateNoPaper)

	if _, err := d.SetPollsState(ctx, store.PollsOpen); err != nil {
		t.Fatalf("open polls: %v", err)
	}

	// Pull the drive before the first sheet, so the continuous export
	// fails and the pending marker survives into the finalizing export.
	if err := os.RemoveAll(d.cfg.Export.DriveDir); err != nil {
		t.Fatalf("remove drive: %v", err)
	}

	device.LoadSheet(interpret.SheetImages{})
	waitForScanner(t, d, machine.StateReadyToScan)
	if err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	waitForScanner(t, d, machine.StateReadyToAccept)
	if err := d.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitForBallots(t, d, 1)

	result, err := d.SetPollsState(ctx, store.PollsClosedFinal)
	if err == nil {
		t.Fatal("expected final export failure with missing drive")
	}
	if result == nil || result.To != store.PollsClosedFinal {
		t.Fatalf("polls must close even when the export fails: %+v", result)
	}

	status, statusErr := d.Status(ctx)
	if statusErr != nil {
		t.Fatalf("status: %v", statusErr)
	}
	if status.PollsState != store.PollsClosedFinal {
		t.Fatalf("polls state = %s", status.PollsState)
	}
	if status.CanUnconfigure {
		t.Fatal("cannot unconfigure before the export lands")
	}
	if status.PendingExports == 0 {
		t.Fatal("pending markers must survive the failed export")
	}

	// Reattach the drive and rerun the finalizing export.
	if err := os.MkdirAll(d.cfg.Export.DriveDir, 0o755); err != nil {
		t.Fatalf("mkdir drive: %v", err)
	}
	if err := d.FinalizeExport(ctx); err != nil {
		t.Fatalf("finalize export: %v", err)
	}
	status, statusErr = d.Status(ctx)
	if statusErr != nil {
		t.Fatalf("status: %v", statusErr)
	}
	if !status.CanUnconfigure || status.PendingExports != 0 {
		t.Fatalf("status after rerun = %+v", status)
	}
}

func TestRejectedSheetRecordedUncounted(t *testing.T) {
	d, device, interp, _ := newTestDaemon(t)
	ctx := context.Background()
	waitForScanner(t, d, machine.StateNoPaper)

	if _, err := d.SetPollsState(ctx, store.PollsOpen); err != nil {
		t.Fatalf("open polls: %v", err)
	}

	// A wrong-election sheet is ejected and recorded uncounted.
	interp.Enqueue(interpret.SheetResult{
		Front: interpret.Page{Type: interpret.PageInvalidBallotHash},
		Back:  interpret.Page{Type: interpret.PageBlank},
	})
	device.LoadSheet(interpret.SheetImages{})
	waitForScanner(t, d, machine.StateReadyToScan)
	if err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	waitForScanner(t, d, machine.StateRejected)

	deadline := time.After(2 * time.Second)
	for {
		health := d.DatabaseHealth(ctx)
		if health.TotalSheets == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("rejected sheet never recorded (sheets=%d)", health.TotalSheets)
		case <-time.After(2 * time.Millisecond):
		}
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.BallotsCounted != 0 {
		t.Fatalf("rejected sheet counted: %d", status.BallotsCounted)
	}
}

func TestReturnedSheetRecordedUncounted(t *testing.T) {
	d, device, interp, _ := newTestDaemon(t)
	ctx := context.Background()
	waitForScanner(t, d, machine.StateNoPaper)

	if _, err := d.SetPollsState(ctx, store.PollsOpen); err != nil {
		t.Fatalf("open polls: %v", err)
	}

	interp.Enqueue(interpret.SheetResult{
		Front: interpret.Page{
			Type:                 interpret.PageHandMarked,
			RequiresAdjudication: true,
			AdjudicationReasons:  []interpret.AdjudicationReason{interpret.ReasonUndervote},
		},
		Back: interpret.Page{Type: interpret.PageHandMarked},
	})
	device.LoadSheet(interpret.SheetImages{})
	waitForScanner(t, d, machine.StateReadyToScan)
	if err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	waitForScanner(t, d, machine.StateNeedsReview)
	if err := d.Return(ctx); err != nil {
		t.Fatalf("return: %v", err)
	}
	waitForScanner(t, d, machine.StateReturned)

	deadline := time.After(2 * time.Second)
	for {
		health := d.DatabaseHealth(ctx)
		if health.TotalSheets == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("returned sheet never recorded (sheets=%d)", health.TotalSheets)
		case <-time.After(2 * time.Millisecond):
		}
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.BallotsCounted != 0 {
		t.Fatalf("returned sheet counted: %d", status.BallotsCounted)
	}
}

func TestIllegalPollsTransition(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)
	ctx := context.Background()

	if _, err := d.SetPollsState(ctx, store.PollsPaused); !errors.Is(err, ledger.ErrIllegalTransition) {
		t.Fatalf("closed_initial -> paused = %v, want ErrIllegalTransition", err)
	}
}

func TestSecondInstanceBlocked(t *testing.T) {
	d, _, _, _ := newTestDaemon(t)

	st2, err := store.OpenPath(filepath.Join(t.TempDir(), "ballots.db"))
	if err != nil {
		t.Fatalf("open second store: %v", err)
	}
	t.Cleanup(func() { _ = st2.Close() })

	d2, err := New(d.cfg, st2, simscanner.New(), interpret.NewStatic(), logging.NewNop(), "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d2.Start(context.Background()); err == nil {
		d2.Stop()
		t.Fatal("second instance must fail to acquire the lock")
	}
}
