package export

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"tally/internal/classify"
	"tally/internal/interpret"
	"tally/internal/logging"
	"tally/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store, string) {
	t.Helper()
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "ballots.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	driveDir := t.TempDir()
	target := NewTarget(driveDir, 0)
	coord := NewCoordinator(st, target, ElectionContext{ElectionID: "general-2026", TestMode: true}, logging.NewNop())
	coord.Start()
	t.Cleanup(coord.Stop)
	return coord, st, driveDir
}

func insertSheet(t *testing.T, st *store.Store, counted bool) *store.Sheet {
	t.Helper()
	ctx := context.Background()
	batch, err := st.OngoingBatch(ctx)
	if err != nil {
		t.Fatalf("ongoing: %v", err)
	}
	if batch == nil {
		batch, err = st.OpenBatch(ctx, "polls_opened")
		if err != nil {
			t.Fatalf("open batch: %v", err)
		}
	}
	sheet := &store.Sheet{
		ID:      uuid.NewString(),
		BatchID: batch.ID,
		Front:   interpret.Page{Type: interpret.PageHandMarked},
		Back:    interpret.Page{Type: interpret.PageHandMarked},
		Verdict: classify.Verdict{Outcome: classify.OutcomeValid},
		Counted: counted,
	}
	if err := st.InsertSheet(ctx, sheet); err != nil {
		t.Fatalf("insert sheet: %v", err)
	}
	return sheet
}

func readRecords(t *testing.T, driveDir string) []CastVoteRecord {
	t.Helper()
	entries, err := os.ReadDir(driveDir)
	if err != nil {
		t.Fatalf("read drive: %v", err)
	}
	var records []CastVoteRecord
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		file, err := os.Open(filepath.Join(driveDir, entry.Name()))
		if err != nil {
			t.Fatalf("open records: %v", err)
		}
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			var record CastVoteRecord
			if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
				t.Fatalf("unmarshal record: %v", err)
			}
			records = append(records, record)
		}
		_ = file.Close()
	}
	return records
}

func TestExportAllWritesPendingSheets(t *testing.T) {
	coord, st, driveDir := newTestCoordinator(t)
	ctx := context.Background()

	accepted := insertSheet(t, st, true)
	rejected := insertSheet(t, st, false)

	if err := coord.ExportAll(ctx); err != nil {
		t.Fatalf("export all: %v", err)
	}

	records := readRecords(t, driveDir)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	byID := map[string]CastVoteRecord{}
	for _, record := range records {
		byID[record.SheetID] = record
	}
	if !byID[accepted.ID].Counted {
		t.Fatal("accepted sheet record must be counted")
	}
	if byID[rejected.ID].Counted {
		t.Fatal("rejected sheet record must not be counted")
	}

	has, err := st.HasUnexportedSheets(ctx)
	if err != nil {
		t.Fatalf("has unexported: %v", err)
	}
	if has {
		t.Fatal("all markers should be cleared")
	}
}

func TestContinuousExportClearsMarker(t *testing.T) {
	coord, st, driveDir := newTestCoordinator(t)
	ctx := context.Background()

	sheet := insertSheet(t, st, true)
	coord.EnqueueSheet(sheet.ID)

	deadline := time.After(2 * time.Second)
	for {
		has, err := st.HasUnexportedSheets(ctx)
		if err != nil {
			t.Fatalf("has unexported: %v", err)
		}
		if !has {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sheet never exported")
		case <-time.After(10 * time.Millisecond):
		}
	}

	records := readRecords(t, driveDir)
	if len(records) != 1 || records[0].SheetID != sheet.ID {
		t.Fatalf("records = %+v", records)
	}
}

func TestSheetNeverExportedTwice(t *testing.T) {
	coord, st, driveDir := newTestCoordinator(t)
	ctx := context.Background()

	sheet := insertSheet(t, st, true)

	// Queue the same sheet several times and race a full export.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = coord.ExportAll(ctx)
	}()
	for i := 0; i < 5; i++ {
		coord.EnqueueSheet(sheet.ID)
	}
	wg.Wait()
	if err := coord.ExportAll(ctx); err != nil {
		t.Fatalf("export all: %v", err)
	}

	// Give queued fire-and-forget requests time to process.
	time.Sleep(50 * time.Millisecond)

	records := readRecords(t, driveDir)
	if len(records) != 1 {
		t.Fatalf("records = %d, want exactly 1", len(records))
	}
}

func TestMissingDriveLeavesMarker(t *testing.T) {
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "ballots.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	missing := filepath.Join(t.TempDir(), "not-mounted")
	coord := NewCoordinator(st, NewTarget(missing, 0), ElectionContext{ElectionID: "e"}, logging.NewNop())
	coord.Start()
	t.Cleanup(coord.Stop)

	sheet := insertSheet(t, st, true)
	ctx := context.Background()

	err = coord.ExportAll(ctx)
	if err == nil {
		t.Fatal("expected export failure with missing drive")
	}

	got, err := st.GetSheet(ctx, sheet.ID)
	if err != nil {
		t.Fatalf("get sheet: %v", err)
	}
	if !got.ExportPending {
		t.Fatal("pending marker must survive a failed export")
	}
}

func TestFinalizeWritesCompletionMarker(t *testing.T) {
	coord, st, driveDir := newTestCoordinator(t)
	ctx := context.Background()

	insertSheet(t, st, true)
	if err := coord.Finalize(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	complete, err := st.ExportMarkedComplete(ctx)
	if err != nil {
		t.Fatalf("export marked complete: %v", err)
	}
	if !complete {
		t.Fatal("store must record export completion")
	}

	entries, err := os.ReadDir(driveDir)
	if err != nil {
		t.Fatalf("read drive: %v", err)
	}
	foundMarker := false
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".complete") {
			foundMarker = true
		}
	}
	if !foundMarker {
		t.Fatal("completion marker missing from drive")
	}
}

func TestStoppedCoordinatorRefusesWork(t *testing.T) {
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "ballots.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	coord := NewCoordinator(st, NewTarget(t.TempDir(), 0), ElectionContext{}, logging.NewNop())
	if err := coord.ExportAll(context.Background()); err != ErrStopped {
		t.Fatalf("export on stopped coordinator = %v, want ErrStopped", err)
	}
	// EnqueueSheet on a stopped coordinator is a silent no-op.
	coord.EnqueueSheet("sheet")
}
