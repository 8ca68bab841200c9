package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"tally/internal/classify"
	"tally/internal/interpret"
	"tally/internal/logging"
	"tally/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Store) {
	t.Helper()
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "ballots.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, logging.NewNop()), st
}

func insertSheet(t *testing.T, st *store.Store, batchID string, counted bool) {
	t.Helper()
	err := st.InsertSheet(context.Background(), &store.Sheet{
		ID:      uuid.NewString(),
		BatchID: batchID,
		Front:   interpret.Page{Type: interpret.PageHandMarked},
		Back:    interpret.Page{Type: interpret.PageHandMarked},
		Verdict: classify.Verdict{Outcome: classify.OutcomeValid},
		Counted: counted,
	})
	if err != nil {
		t.Fatalf("insert sheet: %v", err)
	}
}

func TestOpenPollsOpensBatch(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	result, err := l.TransitionPolls(ctx, store.PollsOpen)
	if err != nil {
		t.Fatalf("open polls: %v", err)
	}
	if result.Reason != ReasonPollsOpened {
		t.Fatalf("reason = %q", result.Reason)
	}
	if result.OpenedBatch == nil || result.ClosedBatch != nil {
		t.Fatalf("result = %+v", result)
	}

	ongoing, err := st.OngoingBatch(ctx)
	if err != nil {
		t.Fatalf("ongoing: %v", err)
	}
	if ongoing == nil {
		t.Fatal("expected ongoing batch after polls open")
	}
}

func TestPauseResumeBatchContinuity(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.TransitionPolls(ctx, store.PollsOpen); err != nil {
		t.Fatalf("open: %v", err)
	}
	result, err := l.TransitionPolls(ctx, store.PollsPaused)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if result.Reason != ReasonPollsPaused || result.ClosedBatch == nil {
		t.Fatalf("pause result = %+v", result)
	}
	ongoing, _ := st.OngoingBatch(ctx)
	if ongoing != nil {
		t.Fatal("batch should be closed while paused")
	}

	result, err = l.TransitionPolls(ctx, store.PollsOpen)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Reason != ReasonPollsResumed || result.OpenedBatch == nil {
		t.Fatalf("resume result = %+v", result)
	}
	if result.OpenedBatch.Number != 2 {
		t.Fatalf("resumed batch number = %d", result.OpenedBatch.Number)
	}
}

func TestClosePollsTriggersFinalExport(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.TransitionPolls(ctx, store.PollsOpen); err != nil {
		t.Fatalf("open: %v", err)
	}
	result, err := l.TransitionPolls(ctx, store.PollsClosedFinal)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !result.FinalExport {
		t.Fatal("closing polls must request the final export")
	}
	if result.ClosedBatch == nil {
		t.Fatal("closing polls must close the ongoing batch")
	}
	ongoing, _ := st.OngoingBatch(ctx)
	if ongoing != nil {
		t.Fatal("no batch may remain open after final close")
	}
}

func TestCloseFromPausedHasNoBatchToClose(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	mustTransition(t, l, store.PollsOpen)
	mustTransition(t, l, store.PollsPaused)

	result, err := l.TransitionPolls(ctx, store.PollsClosedFinal)
	if err != nil {
		t.Fatalf("close from paused: %v", err)
	}
	if result.ClosedBatch != nil {
		t.Fatalf("no batch should be closed: %+v", result)
	}
	if !result.FinalExport {
		t.Fatal("final export still required")
	}
}

func TestIllegalTransitions(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	illegal := []store.PollsState{store.PollsPaused, store.PollsClosedFinal}
	for _, to := range illegal {
		if _, err := l.TransitionPolls(ctx, to); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("closed_initial -> %s = %v, want ErrIllegalTransition", to, err)
		}
	}

	mustTransition(t, l, store.PollsOpen)
	if _, err := l.TransitionPolls(ctx, store.PollsOpen); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("open -> open = %v, want ErrIllegalTransition", err)
	}
}

func TestAdministrativeEscapeFromFinal(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	mustTransition(t, l, store.PollsOpen)
	mustTransition(t, l, store.PollsClosedFinal)

	result, err := l.TransitionPolls(ctx, store.PollsPaused)
	if err != nil {
		t.Fatalf("escape: %v", err)
	}
	if result.Reason != ReasonPollsReverted {
		t.Fatalf("reason = %q", result.Reason)
	}
	if result.OpenedBatch != nil || result.ClosedBatch != nil {
		t.Fatalf("escape must not touch batches: %+v", result)
	}

	// Resuming afterwards opens a fresh batch.
	result, err = l.TransitionPolls(ctx, store.PollsOpen)
	if err != nil {
		t.Fatalf("resume after escape: %v", err)
	}
	if result.OpenedBatch == nil {
		t.Fatal("resume must open a batch")
	}
	ongoing, _ := st.OngoingBatch(ctx)
	if ongoing == nil {
		t.Fatal("ongoing batch missing after resume")
	}
}

func TestReplaceBallotBag(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.ReplaceBallotBag(ctx); !errors.Is(err, ErrBagReplaceClosed) {
		t.Fatalf("bag replace while closed = %v", err)
	}

	mustTransition(t, l, store.PollsOpen)
	first, _ := st.OngoingBatch(ctx)
	insertSheet(t, st, first.ID, true)
	insertSheet(t, st, first.ID, true)

	result, err := l.ReplaceBallotBag(ctx)
	if err != nil {
		t.Fatalf("bag replace: %v", err)
	}
	if result.ClosedBatch == nil || result.OpenedBatch == nil {
		t.Fatalf("result = %+v", result)
	}
	if result.ClosedBatch.Number+1 != result.OpenedBatch.Number {
		t.Fatalf("batch numbers = %d, %d", result.ClosedBatch.Number, result.OpenedBatch.Number)
	}

	count, err := st.BallotsAtBagReplacement(ctx)
	if err != nil {
		t.Fatalf("bag count: %v", err)
	}
	if count != 2 {
		t.Fatalf("ballots at replacement = %d, want 2", count)
	}
}

func TestTransitionAuditTrail(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	mustTransition(t, l, store.PollsOpen)
	mustTransition(t, l, store.PollsPaused)
	mustTransition(t, l, store.PollsOpen)
	mustTransition(t, l, store.PollsClosedFinal)

	transitions, err := st.PollsTransitions(ctx)
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	wantReasons := []string{ReasonPollsOpened, ReasonPollsPaused, ReasonPollsResumed, ReasonPollsClosed}
	if len(transitions) != len(wantReasons) {
		t.Fatalf("transition count = %d", len(transitions))
	}
	for i, want := range wantReasons {
		if transitions[i].Reason != want {
			t.Fatalf("transition %d reason = %q, want %q", i, transitions[i].Reason, want)
		}
	}
}

func mustTransition(t *testing.T, l *Ledger, to store.PollsState) {
	t.Helper()
	if _, err := l.TransitionPolls(context.Background(), to); err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
}
