package machine

import (
	"testing"

	"tally/internal/classify"
	"tally/internal/driver"
	"tally/internal/interpret"
)

var testParams = Params{MaxScanAttempts: 3, MaxConnectAttempts: 5}

var allEventTypes = []EventType{
	EventConnected, EventConnectFailed,
	EventStatus, EventStatusFailed,
	EventScanCommand, EventAcceptCommand, EventReturnCommand, EventCalibrateCommand,
	EventScanSucceeded, EventScanFailed,
	EventEjectSucceeded, EventEjectFailed,
	EventResetSucceeded, EventResetFailed,
	EventCalibrateSucceeded, EventCalibrateFailed,
}

func hasAction(actions []Action, want Action) bool {
	for _, action := range actions {
		if action == want {
			return true
		}
	}
	return false
}

func validPages() (interpret.Page, interpret.Page) {
	return interpret.Page{Type: interpret.PageHandMarked}, interpret.Page{Type: interpret.PageHandMarked}
}

func scanSucceededEvent(verdict classify.Verdict) Event {
	front, back := validPages()
	return Event{Type: EventScanSucceeded, Front: front, Back: back, Verdict: verdict}
}

func TestTransitionTotality(t *testing.T) {
	paperVariants := []driver.Status{
		{},
		{FrontHasPaper: true},
		{BackHasPaper: true},
		{FrontHasPaper: true, BackHasPaper: true},
		{Jammed: true},
	}
	for _, state := range AllStates {
		for _, eventType := range allEventTypes {
			for _, paper := range paperVariants {
				snap := Snapshot{State: state, ResumeState: StateNoPaper}
				ev := Event{Type: eventType, Paper: paper}
				next, _, _ := Transition(testParams, snap, ev)
				if next.State == "" {
					t.Fatalf("state %s, event %s: empty next state", state, eventType)
				}
			}
		}
	}
}

func TestScanAcceptLifecycle(t *testing.T) {
	snap := Snapshot{State: StateReadyToScan}

	snap, actions, _ := Transition(testParams, snap, Event{Type: EventScanCommand})
	if snap.State != StateScanning || !hasAction(actions, ActionScan) {
		t.Fatalf("after scan command: state=%s actions=%v", snap.State, actions)
	}
	if snap.ScanAttempts != 1 {
		t.Fatalf("scan attempts = %d, want 1", snap.ScanAttempts)
	}

	snap, actions, _ = Transition(testParams, snap, scanSucceededEvent(classify.Verdict{Outcome: classify.OutcomeValid}))
	if snap.State != StateReadyToAccept || len(actions) != 0 {
		t.Fatalf("after valid scan: state=%s actions=%v", snap.State, actions)
	}
	if !snap.HaveSheet || snap.Verdict == nil {
		t.Fatal("scanned sheet must be held in the snapshot")
	}

	snap, actions, _ = Transition(testParams, snap, Event{Type: EventAcceptCommand})
	if snap.State != StateAccepting || !hasAction(actions, ActionEjectBack) {
		t.Fatalf("after accept command: state=%s actions=%v", snap.State, actions)
	}

	snap, actions, _ = Transition(testParams, snap, Event{Type: EventEjectSucceeded})
	if snap.State != StateAccepted || !hasAction(actions, ActionRecordAccepted) {
		t.Fatalf("after eject: state=%s actions=%v", snap.State, actions)
	}

	snap, _, _ = Transition(testParams, snap, Event{Type: EventStatus})
	if snap.State != StateNoPaper || snap.Verdict != nil || snap.Error != ErrNone {
		t.Fatalf("after paper cleared: state=%s verdict=%v error=%s", snap.State, snap.Verdict, snap.Error)
	}
}

func TestNeedsReviewAcceptIsAdjudicated(t *testing.T) {
	snap := Snapshot{State: StateScanning, ScanAttempts: 1}
	verdict := classify.Verdict{
		Outcome: classify.OutcomeNeedsReview,
		Reasons: []interpret.AdjudicationReason{interpret.ReasonOvervote},
	}
	snap, _, _ = Transition(testParams, snap, scanSucceededEvent(verdict))
	if snap.State != StateNeedsReview {
		t.Fatalf("state = %s, want needs_review", snap.State)
	}

	snap, actions, _ := Transition(testParams, snap, Event{Type: EventAcceptCommand})
	if snap.State != StateAcceptingAfterReview || !snap.Adjudicated {
		t.Fatalf("state=%s adjudicated=%v", snap.State, snap.Adjudicated)
	}
	if !hasAction(actions, ActionEjectBack) {
		t.Fatalf("actions = %v, want eject back", actions)
	}
}

func TestInvalidSheetRejectedAndRecorded(t *testing.T) {
	snap := Snapshot{State: StateScanning, ScanAttempts: 1}
	verdict := classify.Verdict{Outcome: classify.OutcomeInvalid, Invalid: classify.InvalidBallotHash}
	snap, actions, _ := Transition(testParams, snap, scanSucceededEvent(verdict))
	if snap.State != StateRejecting || !hasAction(actions, ActionEjectFront) {
		t.Fatalf("after invalid scan: state=%s actions=%v", snap.State, actions)
	}

	snap, actions, _ = Transition(testParams, snap, Event{Type: EventEjectSucceeded})
	if snap.State != StateRejected || !hasAction(actions, ActionRecordRejected) {
		t.Fatalf("after eject: state=%s actions=%v", snap.State, actions)
	}
}

func TestScanRetryCeiling(t *testing.T) {
	snap := Snapshot{State: StateScanning, ScanAttempts: 1}

	for attempt := 1; attempt < testParams.MaxScanAttempts; attempt++ {
		next, actions, _ := Transition(testParams, snap, Event{Type: EventScanFailed, Kind: ErrScanningTimedOut})
		if next.State != StateScanning || !hasAction(actions, ActionScan) {
			t.Fatalf("attempt %d: state=%s actions=%v, want retry", attempt, next.State, actions)
		}
		if next.ScanAttempts != attempt+1 {
			t.Fatalf("attempt %d: scan attempts = %d", attempt, next.ScanAttempts)
		}
		snap = next
	}

	snap, actions, _ := Transition(testParams, snap, Event{Type: EventScanFailed, Kind: ErrScanningTimedOut})
	if snap.State != StateRejecting || snap.Error != ErrScanningFailed {
		t.Fatalf("after ceiling: state=%s error=%s", snap.State, snap.Error)
	}
	if !hasAction(actions, ActionEjectFront) || snap.HaveSheet {
		t.Fatalf("exhausted scan must eject without a recorded sheet: actions=%v haveSheet=%v", actions, snap.HaveSheet)
	}

	snap, actions, _ = Transition(testParams, snap, Event{Type: EventEjectSucceeded})
	if snap.State != StateRejected || hasAction(actions, ActionRecordRejected) {
		t.Fatalf("nothing persists for a failed scan: state=%s actions=%v", snap.State, actions)
	}
}

func TestDoubleFeedSuspendAndResume(t *testing.T) {
	snap := Snapshot{State: StateScanning, ScanAttempts: 1}

	snap, _, _ = Transition(testParams, snap, Event{Type: EventStatus, Paper: driver.Status{FrontHasPaper: true, BackHasPaper: true}})
	if snap.State != StateBothSidesHavePaper || snap.Error != ErrBothSidesHavePaper {
		t.Fatalf("state=%s error=%s", snap.State, snap.Error)
	}
	if snap.ResumeState != StateScanning {
		t.Fatalf("resume state = %s", snap.ResumeState)
	}

	// Scan completes while the operator clears the extra sheet.
	snap, actions, _ := Transition(testParams, snap, scanSucceededEvent(classify.Verdict{Outcome: classify.OutcomeValid}))
	if snap.State != StateBothSidesHavePaper || snap.Pending == nil || len(actions) != 0 {
		t.Fatalf("completion must be held: state=%s pending=%v", snap.State, snap.Pending)
	}

	// Extra sheet removed: the held completion applies.
	snap, _, _ = Transition(testParams, snap, Event{Type: EventStatus, Paper: driver.Status{BackHasPaper: true}})
	if snap.State != StateReadyToAccept {
		t.Fatalf("state = %s, want ready_to_accept", snap.State)
	}
	if snap.Pending != nil || snap.ResumeState != "" {
		t.Fatal("resume bookkeeping must be cleared")
	}
}

func TestReconnectPaperMapping(t *testing.T) {
	tests := []struct {
		name      string
		paper     driver.Status
		wantState State
		wantError ErrorKind
		wantEject bool
	}{
		{"no paper", driver.Status{}, StateNoPaper, ErrNone, false},
		{"front only", driver.Status{FrontHasPaper: true}, StateRejected, ErrPaperInFrontAfterReconnect, false},
		{"back only", driver.Status{BackHasPaper: true}, StateRejecting, ErrPaperInBackAfterReconnect, true},
		{"both sides", driver.Status{FrontHasPaper: true, BackHasPaper: true}, StateJammed, ErrPaperInBothSidesAfterReconnect, false},
		{"jammed", driver.Status{Jammed: true}, StateJammed, ErrNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Snapshot{State: StateConnecting, Reconnecting: true}
			next, actions, _ := Transition(testParams, snap, Event{Type: EventStatus, Paper: tt.paper})
			if next.State != tt.wantState {
				t.Fatalf("state = %s, want %s", next.State, tt.wantState)
			}
			if next.Error != tt.wantError {
				t.Fatalf("error = %q, want %q", next.Error, tt.wantError)
			}
			if hasAction(actions, ActionEjectFront) != tt.wantEject {
				t.Fatalf("eject = %v, want %v", actions, tt.wantEject)
			}
			if next.Reconnecting {
				t.Fatal("reconnect mapping must run once")
			}
			if next.HaveSheet {
				t.Fatal("no sheet survives a reconnect")
			}
		})
	}
}

func TestStatusFailureTriggersReconnect(t *testing.T) {
	snap := Snapshot{State: StateReadyToAccept, HaveSheet: true}
	snap, actions, _ := Transition(testParams, snap, Event{Type: EventStatusFailed, Kind: ErrPaperStatusTimedOut})
	if snap.State != StateRecovering || snap.Error != ErrPaperStatusTimedOut {
		t.Fatalf("state=%s error=%s", snap.State, snap.Error)
	}
	if !hasAction(actions, ActionReconnect) {
		t.Fatalf("actions = %v, want reconnect", actions)
	}
}

func TestConnectRetryCeiling(t *testing.T) {
	snap := Snapshot{State: StateDisconnected}
	for attempt := 1; attempt < testParams.MaxConnectAttempts; attempt++ {
		next, actions, _ := Transition(testParams, snap, Event{Type: EventConnectFailed})
		if next.State != StateDisconnected || !hasAction(actions, ActionReconnect) {
			t.Fatalf("attempt %d: state=%s actions=%v", attempt, next.State, actions)
		}
		snap = next
	}
	snap, actions, _ := Transition(testParams, snap, Event{Type: EventConnectFailed})
	if snap.State != StateUnrecoverable {
		t.Fatalf("state = %s, want unrecoverable", snap.State)
	}
	if len(actions) != 0 {
		t.Fatalf("no further reconnects: actions = %v", actions)
	}
}

func TestPaperInBackAfterAccept(t *testing.T) {
	snap := Snapshot{State: StateAccepted}
	snap, actions, _ := Transition(testParams, snap, Event{Type: EventStatus, Paper: driver.Status{BackHasPaper: true}})
	if snap.State != StateRejecting || snap.Error != ErrPaperInBackAfterAccept {
		t.Fatalf("state=%s error=%s", snap.State, snap.Error)
	}
	if snap.HaveSheet {
		t.Fatal("accepted sheet must not be recordable a second time")
	}
	if !hasAction(actions, ActionEjectFront) {
		t.Fatalf("actions = %v, want eject front", actions)
	}
}

func TestJamClearedIssuesSingleReset(t *testing.T) {
	snap := Snapshot{State: StateNoPaper}
	snap, _, _ = Transition(testParams, snap, Event{Type: EventStatus, Paper: driver.Status{Jammed: true}})
	if snap.State != StateJammed {
		t.Fatalf("state = %s, want jammed", snap.State)
	}

	snap, actions, _ := Transition(testParams, snap, Event{Type: EventStatus})
	if !hasAction(actions, ActionReset) || !snap.ResetIssued {
		t.Fatalf("jam cleared must reset: actions=%v issued=%v", actions, snap.ResetIssued)
	}

	snap, actions, _ = Transition(testParams, snap, Event{Type: EventStatus})
	if hasAction(actions, ActionReset) {
		t.Fatal("reset must not repeat on every poll")
	}

	snap, _, _ = Transition(testParams, snap, Event{Type: EventResetSucceeded})
	if snap.State != StateNoPaper || snap.ResetIssued {
		t.Fatalf("after reset: state=%s issued=%v", snap.State, snap.ResetIssued)
	}
}

func TestCalibrationFailureReturnsToNoPaper(t *testing.T) {
	snap := Snapshot{State: StateReadyToScan}
	snap, actions, _ := Transition(testParams, snap, Event{Type: EventCalibrateCommand})
	if snap.State != StateCalibrating || !hasAction(actions, ActionCalibrate) {
		t.Fatalf("state=%s actions=%v", snap.State, actions)
	}

	snap, _, _ = Transition(testParams, snap, Event{Type: EventCalibrateFailed, Kind: ErrCalibrationFailed})
	if snap.State != StateNoPaper || snap.Error != ErrCalibrationFailed {
		t.Fatalf("state=%s error=%s", snap.State, snap.Error)
	}
}

func TestCommandsInWrongStateAreFlagged(t *testing.T) {
	tests := []struct {
		state State
		event EventType
	}{
		{StateNoPaper, EventScanCommand},
		{StateNoPaper, EventAcceptCommand},
		{StateReadyToScan, EventReturnCommand},
		{StateScanning, EventScanCommand},
		{StateJammed, EventCalibrateCommand},
		{StateUnrecoverable, EventScanCommand},
	}
	for _, tt := range tests {
		snap := Snapshot{State: tt.state}
		next, actions, unexpected := Transition(testParams, snap, Event{Type: tt.event})
		if !unexpected {
			t.Fatalf("%s in %s must be flagged", tt.event, tt.state)
		}
		if next.State != tt.state || len(actions) != 0 {
			t.Fatalf("%s in %s must be a no-op: state=%s actions=%v", tt.event, tt.state, next.State, actions)
		}
	}
}
