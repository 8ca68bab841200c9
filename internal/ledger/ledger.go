// Package ledger drives batch bookkeeping from polls-state transitions.
// Every open and close carries a stable reason string for audit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/logging"
	"tally/internal/store"
)

// Stable audit reason strings.
const (
	ReasonPollsOpened       = "polls_opened"
	ReasonPollsPaused       = "polls_paused"
	ReasonPollsResumed      = "polls_resumed"
	ReasonPollsClosed       = "polls_closed"
	ReasonPollsReverted     = "polls_reverted_to_paused"
	ReasonBallotBagReplaced = "ballot_bag_replaced"
)

// ErrIllegalTransition indicates a polls-state change the table does not
// allow. This is a caller bug, not an operating condition.
var ErrIllegalTransition = errors.New("illegal polls transition")

// ErrBagReplaceClosed indicates a ballot-bag replacement outside polls_open.
var ErrBagReplaceClosed = errors.New("ballot bag can only be replaced while polls are open")

// Ledger applies the polls transition table against the store.
type Ledger struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns a ledger over the given store.
func New(st *store.Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  st,
		logger: logging.NewComponentLogger(logger, "ledger"),
	}
}

// Result describes what a transition did.
type Result struct {
	From        store.PollsState
	To          store.PollsState
	Reason      string
	ClosedBatch *store.Batch
	OpenedBatch *store.Batch
	// FinalExport is set when the transition requires the polls-closing
	// export. The caller owns triggering it.
	FinalExport bool
}

// TransitionPolls applies one polls-state change: validates it against the
// transition table, closes and opens batches as required (close always
// precedes open), and records the audit row.
func (l *Ledger) TransitionPolls(ctx context.Context, to store.PollsState) (*Result, error) {
	from, err := l.store.CurrentPollsState(ctx)
	if err != nil {
		return nil, err
	}

	reason, ok := transitionReason(from, to)
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	result := &Result{From: from, To: to, Reason: reason}

	switch {
	case from == store.PollsClosedInitial && to == store.PollsOpen,
		from == store.PollsPaused && to == store.PollsOpen:
		batch, err := l.store.OpenBatch(ctx, reason)
		if err != nil {
			return nil, err
		}
		result.OpenedBatch = batch

	case from == store.PollsOpen && to == store.PollsPaused:
		batch, err := l.store.CloseOngoingBatch(ctx, reason)
		if err != nil {
			return nil, err
		}
		result.ClosedBatch = batch

	case to == store.PollsClosedFinal:
		ongoing, err := l.store.OngoingBatch(ctx)
		if err != nil {
			return nil, err
		}
		if ongoing != nil {
			batch, err := l.store.CloseOngoingBatch(ctx, reason)
			if err != nil {
				return nil, err
			}
			result.ClosedBatch = batch
		}
		result.FinalExport = true

	case from == store.PollsClosedFinal && to == store.PollsPaused:
		// Administrative escape hatch; batches stay closed until a
		// subsequent resume opens a new one.
	}

	ballots, err := l.store.BallotsCounted(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.store.RecordPollsTransition(ctx, from, to, reason, ballots); err != nil {
		return nil, err
	}

	l.logTransition(result, ballots)
	return result, nil
}

// ReplaceBallotBag closes the ongoing batch and opens its successor,
// recording the ballot count at replacement time. Valid only while polls
// are open.
func (l *Ledger) ReplaceBallotBag(ctx context.Context) (*Result, error) {
	state, err := l.store.CurrentPollsState(ctx)
	if err != nil {
		return nil, err
	}
	if state != store.PollsOpen {
		return nil, fmt.Errorf("%w (polls are %s)", ErrBagReplaceClosed, state)
	}

	closed, err := l.store.CloseOngoingBatch(ctx, ReasonBallotBagReplaced)
	if err != nil {
		return nil, err
	}
	opened, err := l.store.OpenBatch(ctx, ReasonBallotBagReplaced)
	if err != nil {
		return nil, err
	}

	ballots, err := l.store.BallotsCounted(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.store.RecordBallotsAtBagReplacement(ctx, ballots); err != nil {
		return nil, err
	}
	if err := l.store.RecordPollsTransition(ctx, state, state, ReasonBallotBagReplaced, ballots); err != nil {
		return nil, err
	}

	result := &Result{
		From:        state,
		To:          state,
		Reason:      ReasonBallotBagReplaced,
		ClosedBatch: closed,
		OpenedBatch: opened,
	}
	l.logTransition(result, ballots)
	return result, nil
}

func transitionReason(from, to store.PollsState) (string, bool) {
	switch {
	case from == store.PollsClosedInitial && to == store.PollsOpen:
		return ReasonPollsOpened, true
	case from == store.PollsOpen && to == store.PollsPaused:
		return ReasonPollsPaused, true
	case from == store.PollsPaused && to == store.PollsOpen:
		return ReasonPollsResumed, true
	case from == store.PollsOpen && to == store.PollsClosedFinal,
		from == store.PollsPaused && to == store.PollsClosedFinal:
		return ReasonPollsClosed, true
	case from == store.PollsClosedFinal && to == store.PollsPaused:
		return ReasonPollsReverted, true
	default:
		return "", false
	}
}

func (l *Ledger) logTransition(result *Result, ballots int64) {
	attrs := []logging.Attr{
		logging.String("from", string(result.From)),
		logging.String("to", string(result.To)),
		logging.String("reason", result.Reason),
		logging.Int64("ballots_counted", ballots),
		logging.String(logging.FieldEventType, "polls_transition"),
	}
	if result.ClosedBatch != nil {
		attrs = append(attrs, logging.Int64("closed_batch", result.ClosedBatch.Number))
	}
	if result.OpenedBatch != nil {
		attrs = append(attrs, logging.Int64("opened_batch", result.OpenedBatch.Number))
	}
	l.logger.Info("polls transition applied", logging.Args(attrs...)...)
}
