package simscanner

import (
	"context"
	"errors"
	"testing"

	"tally/internal/driver"
	"tally/internal/interpret"
)

func TestScanMovesSheetToBack(t *testing.T) {
	d := New()
	ctx := context.Background()

	if _, err := d.GetStatus(ctx); !errors.Is(err, driver.ErrNotConnected) {
		t.Fatalf("status before connect = %v, want ErrNotConnected", err)
	}
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	d.LoadSheet(interpret.SheetImages{Front: "f.png", Back: "b.png"})
	status, err := d.GetStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.FrontHasPaper || status.BackHasPaper {
		t.Fatalf("status after load = %+v", status)
	}

	images, err := d.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if images.Front != "f.png" {
		t.Fatalf("images = %+v", images)
	}

	status, _ = d.GetStatus(ctx)
	if status.FrontHasPaper || !status.BackHasPaper {
		t.Fatalf("status after scan = %+v", status)
	}

	if err := d.EjectBack(ctx); err != nil {
		t.Fatalf("eject back: %v", err)
	}
	status, _ = d.GetStatus(ctx)
	if !status.NoPaper() {
		t.Fatalf("status after accept = %+v", status)
	}
}

func TestEjectFrontReturnsSheet(t *testing.T) {
	d := New()
	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.LoadSheet(interpret.SheetImages{})
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := d.EjectFront(ctx); err != nil {
		t.Fatalf("eject front: %v", err)
	}
	status, _ := d.GetStatus(ctx)
	if !status.FrontHasPaper || status.BackHasPaper {
		t.Fatalf("status after return = %+v", status)
	}
}

func TestScanFailureInjection(t *testing.T) {
	d := New()
	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.LoadSheet(interpret.SheetImages{})
	d.FailNextScan(errors.New("feed slipped"))

	_, err := d.Scan(ctx)
	if err == nil {
		t.Fatal("expected scan failure")
	}
	if driver.CodeOf(err) != driver.CodeIO {
		t.Fatalf("code = %v", driver.CodeOf(err))
	}

	// The queued failure is consumed; the next attempt succeeds.
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("retry scan: %v", err)
	}
}

func TestScanWithoutPaper(t *testing.T) {
	d := New()
	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_, err := d.Scan(ctx)
	if driver.CodeOf(err) != driver.CodeNoPaper {
		t.Fatalf("scan empty = %v", err)
	}
}

func TestCalibrateRefusesWithPaper(t *testing.T) {
	d := New()
	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.LoadSheet(interpret.SheetImages{})
	err := d.Calibrate(ctx)
	if driver.CodeOf(err) != driver.CodeCalibration {
		t.Fatalf("calibrate with paper = %v", err)
	}

	d.RemoveFrontSheet()
	if err := d.Calibrate(ctx); err != nil {
		t.Fatalf("calibrate empty: %v", err)
	}
}

func TestDropLosesSessionKeepsPaper(t *testing.T) {
	d := New()
	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.LoadSheet(interpret.SheetImages{})
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	d.Drop()
	if _, err := d.GetStatus(ctx); !errors.Is(err, driver.ErrNotConnected) {
		t.Fatalf("status after drop = %v", err)
	}

	if err := d.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	status, err := d.GetStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.BackHasPaper {
		t.Fatalf("paper position lost across drop: %+v", status)
	}
}

func TestResetClearsTransport(t *testing.T) {
	d := New()
	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.SetJammed(true)
	d.SetPaper(true, true)
	if err := d.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	status, _ := d.GetStatus(ctx)
	if !status.NoPaper() {
		t.Fatalf("status after reset = %+v", status)
	}
	if d.Resets() != 1 {
		t.Fatalf("resets = %d", d.Resets())
	}
}
