package store

import (
	"strings"
	"time"

	"tally/internal/classify"
	"tally/internal/interpret"
)

// PollsState tracks where the precinct is in the voting day.
type PollsState string

const (
	PollsClosedInitial PollsState = "polls_closed_initial"
	PollsOpen          PollsState = "polls_open"
	PollsPaused        PollsState = "polls_paused"
	PollsClosedFinal   PollsState = "polls_closed_final"
)

var allPollsStates = []PollsState{
	PollsClosedInitial,
	PollsOpen,
	PollsPaused,
	PollsClosedFinal,
}

// ParsePollsState normalizes input into a known PollsState.
func ParsePollsState(value string) (PollsState, bool) {
	candidate := PollsState(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allPollsStates {
		if state == candidate {
			return state, true
		}
	}
	return "", false
}

// Sheet is one physical piece of paper persisted after classification. Rows
// are immutable except for the export-pending flag; rejected sheets stay on
// record with counted=false for audit.
type Sheet struct {
	ID            string
	BatchID       string
	Front         interpret.Page
	Back          interpret.Page
	Verdict       classify.Verdict
	Counted       bool
	Adjudicated   bool
	ExportPending bool
	CreatedAt     time.Time
	ExportedAt    *time.Time
}

// Batch is a contiguous run of sheets between polls-state or ballot-bag
// boundaries. A closed batch never reopens.
type Batch struct {
	ID          string
	Number      int64
	OpenReason  string
	CloseReason string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// Ongoing reports whether the batch is still accepting sheets.
func (b *Batch) Ongoing() bool {
	return b != nil && b.EndedAt == nil
}

// BatchSummary is a batch row with its sheet tallies, for listings.
type BatchSummary struct {
	Batch
	SheetCount   int64
	CountedCount int64
}

// PollsTransition is one audited polls-state change.
type PollsTransition struct {
	ID             int64
	From           PollsState
	To             PollsState
	Reason         string
	BallotsCounted int64
	CreatedAt      time.Time
}

// Well-known settings keys.
const (
	settingPollsState           = "polls_state"
	settingBallotsAtBagReplace  = "ballots_at_last_bag_replacement"
	settingExportSessionID      = "export_session_id"
	settingExportMarkedComplete = "export_marked_complete"
)
