package machine

import (
	"tally/internal/classify"
	"tally/internal/driver"
	"tally/internal/interpret"
)

// State is the closed set of scanner control states.
type State string

const (
	StateConnecting           State = "connecting"
	StateDisconnected         State = "disconnected"
	StateNoPaper              State = "no_paper"
	StateReadyToScan          State = "ready_to_scan"
	StateScanning             State = "scanning"
	StateReadyToAccept        State = "ready_to_accept"
	StateAccepting            State = "accepting"
	StateAccepted             State = "accepted"
	StateNeedsReview          State = "needs_review"
	StateAcceptingAfterReview State = "accepting_after_review"
	StateReturning            State = "returning"
	StateReturned             State = "returned"
	StateRejecting            State = "rejecting"
	StateRejected             State = "rejected"
	StateCalibrating          State = "calibrating"
	StateJammed               State = "jammed"
	StateBothSidesHavePaper   State = "both_sides_have_paper"
	StateRecovering           State = "recovering_from_error"
	StateUnrecoverable        State = "unrecoverable_error"
)

// AllStates enumerates every state, for exhaustive transition tests.
var AllStates = []State{
	StateConnecting,
	StateDisconnected,
	StateNoPaper,
	StateReadyToScan,
	StateScanning,
	StateReadyToAccept,
	StateAccepting,
	StateAccepted,
	StateNeedsReview,
	StateAcceptingAfterReview,
	StateReturning,
	StateReturned,
	StateRejecting,
	StateRejected,
	StateCalibrating,
	StateJammed,
	StateBothSidesHavePaper,
	StateRecovering,
	StateUnrecoverable,
}

// ErrorKind is the closed error taxonomy surfaced through the status
// projection.
type ErrorKind string

const (
	ErrNone                           ErrorKind = ""
	ErrPaperStatusTimedOut            ErrorKind = "paper_status_timed_out"
	ErrScanningTimedOut               ErrorKind = "scanning_timed_out"
	ErrScanningFailed                 ErrorKind = "scanning_failed"
	ErrBothSidesHavePaper             ErrorKind = "both_sides_have_paper"
	ErrPaperInBackAfterAccept         ErrorKind = "paper_in_back_after_accept"
	ErrPaperInFrontAfterReconnect     ErrorKind = "paper_in_front_after_reconnect"
	ErrPaperInBackAfterReconnect      ErrorKind = "paper_in_back_after_reconnect"
	ErrPaperInBothSidesAfterReconnect ErrorKind = "paper_in_both_sides_after_reconnect"
	ErrUnexpectedPaperStatus          ErrorKind = "unexpected_paper_status"
	ErrUnexpectedEvent                ErrorKind = "unexpected_event"
	ErrCalibrationFailed              ErrorKind = "calibration_failed"
	ErrClientError                    ErrorKind = "client_error"
)

// EventType identifies what happened: a hardware observation, a command, or
// the completion of an issued action.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventConnectFailed EventType = "connect_failed"

	EventStatus       EventType = "status"
	EventStatusFailed EventType = "status_failed"

	EventScanCommand      EventType = "scan_command"
	EventAcceptCommand    EventType = "accept_command"
	EventReturnCommand    EventType = "return_command"
	EventCalibrateCommand EventType = "calibrate_command"

	EventScanSucceeded      EventType = "scan_succeeded"
	EventScanFailed         EventType = "scan_failed"
	EventEjectSucceeded     EventType = "eject_succeeded"
	EventEjectFailed        EventType = "eject_failed"
	EventResetSucceeded     EventType = "reset_succeeded"
	EventResetFailed        EventType = "reset_failed"
	EventCalibrateSucceeded EventType = "calibrate_succeeded"
	EventCalibrateFailed    EventType = "calibrate_failed"
)

// Event is one input to the transition function.
type Event struct {
	Type  EventType
	Paper driver.Status
	// Scan results.
	Front   interpret.Page
	Back    interpret.Page
	Verdict classify.Verdict
	// Failure classification for *Failed events.
	Kind ErrorKind
	Err  error
}

// Action is a side effect the engine must execute after a transition.
type Action string

const (
	ActionScan           Action = "scan"
	ActionEjectFront     Action = "eject_front"
	ActionEjectBack      Action = "eject_back"
	ActionReset          Action = "reset"
	ActionReconnect      Action = "reconnect"
	ActionCalibrate      Action = "calibrate"
	ActionRecordAccepted Action = "record_accepted"
	ActionRecordRejected Action = "record_rejected"
)

// Snapshot is the transition function's complete working state. It is a
// value: Transition returns a new Snapshot and never mutates its input.
type Snapshot struct {
	State   State
	Error   ErrorKind
	Verdict *classify.Verdict

	// Last scanned pages, valid while HaveSheet is set. Cleared once the
	// sheet is recorded or leaves the transport.
	Front     interpret.Page
	Back      interpret.Page
	HaveSheet bool
	// Adjudicated marks an accept that overrode a needs-review verdict.
	Adjudicated bool

	ScanAttempts    int
	ConnectAttempts int

	// Reconnecting requests reconnect paper mapping on the next status.
	Reconnecting bool

	// Suspended operation while clearing a double feed.
	ResumeState  State
	ResumeAction Action
	Pending      *Event

	// ResetIssued guards against re-issuing the post-jam hardware reset
	// on every poll.
	ResetIssued bool
}

// Params bounds the retry behavior.
type Params struct {
	MaxScanAttempts    int
	MaxConnectAttempts int
}
