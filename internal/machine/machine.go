package machine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tally/internal/classify"
	"tally/internal/driver"
	"tally/internal/interpret"
	"tally/internal/logging"
)

// ErrNotRunning indicates a command was issued while the machine is stopped.
var ErrNotRunning = errors.New("scanner machine not running")

// SheetRecord carries a finished sheet from the machine to its sink.
type SheetRecord struct {
	Front       interpret.Page
	Back        interpret.Page
	Verdict     classify.Verdict
	Adjudicated bool
}

// Sink persists finished sheets. SheetAccepted runs before the accepted
// status is published; a failure there is an election integrity failure and
// halts the machine.
type Sink interface {
	SheetAccepted(ctx context.Context, rec SheetRecord) error
	SheetRejected(ctx context.Context, rec SheetRecord) error
}

// Status is the externally visible projection of the machine.
type Status struct {
	State   State
	Error   ErrorKind
	Verdict *classify.Verdict
}

// Options sets the machine's timing and retry parameters.
type Options struct {
	PollInterval       time.Duration
	ScanTimeout        time.Duration
	ReconnectDelay     time.Duration
	CalibrationTimeout time.Duration
	MaxScanAttempts    int
	MaxConnectAttempts int
}

type command struct {
	event Event
	// reply is set only for calibrate, the one blocking command.
	reply chan error
}

// Machine drives one scanner: it owns the device session, polls paper
// status, runs the transition function, and executes the resulting actions.
// All state lives in the run goroutine; commands and action completions
// arrive over channels.
type Machine struct {
	opts    Options
	scanner driver.Scanner
	interp  interpret.Interpreter
	sink    Sink
	logger  *slog.Logger

	commands chan command
	events   chan Event

	mu      sync.Mutex
	status  Status
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New builds a machine; call Start before issuing commands.
func New(opts Options, scanner driver.Scanner, interp interpret.Interpreter, sink Sink, logger *slog.Logger) *Machine {
	return &Machine{
		opts:     opts,
		scanner:  scanner,
		interp:   interp,
		sink:     sink,
		logger:   logging.NewComponentLogger(logger, "machine"),
		commands: make(chan command, 8),
		events:   make(chan Event, 16),
		status:   Status{State: StateConnecting},
	}
}

// Start connects to the scanner and begins polling.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.run(ctx)
}

// Stop halts the machine and disconnects from the scanner.
func (m *Machine) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	_ = m.scanner.Disconnect()
}

// Status returns the current projection.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Scan feeds the sheet waiting at the front of the transport.
func (m *Machine) Scan() error { return m.send(Event{Type: EventScanCommand}) }

// Accept drops the held sheet into the ballot bag.
func (m *Machine) Accept() error { return m.send(Event{Type: EventAcceptCommand}) }

// Return ejects the held sheet back to the voter.
func (m *Machine) Return() error { return m.send(Event{Type: EventReturnCommand}) }

// Calibrate runs sensor calibration and blocks until it finishes.
func (m *Machine) Calibrate(ctx context.Context) error {
	if !m.isRunning() {
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	select {
	case m.commands <- command{event: Event{Type: EventCalibrateCommand}, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) send(ev Event) error {
	if !m.isRunning() {
		return ErrNotRunning
	}
	select {
	case m.commands <- command{event: ev}:
		return nil
	default:
		return errors.New("command queue full")
	}
}

func (m *Machine) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.done)

	snap := Snapshot{State: StateConnecting}
	m.publish(snap)
	go m.connect(ctx, false)

	var calibrateReply chan error

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if calibrateReply != nil {
				calibrateReply <- ErrNotRunning
			}
			return
		case <-ticker.C:
			if !pollable(snap) {
				continue
			}
			snap = m.apply(ctx, snap, m.pollStatus(ctx), &calibrateReply)
		case cmd := <-m.commands:
			if cmd.reply != nil {
				if calibrateReply != nil {
					cmd.reply <- errors.New("calibration already in progress")
					continue
				}
				before := snap.State
				snap = m.apply(ctx, snap, cmd.event, &calibrateReply)
				if snap.State == StateCalibrating {
					calibrateReply = cmd.reply
				} else {
					cmd.reply <- errors.New("cannot calibrate in state " + string(before))
				}
				continue
			}
			snap = m.apply(ctx, snap, cmd.event, &calibrateReply)
		case ev := <-m.events:
			snap = m.apply(ctx, snap, ev, &calibrateReply)
		}
	}
}

// pollable reports whether the device session is open, so paper status polls
// make sense.
func pollable(snap Snapshot) bool {
	switch snap.State {
	case StateDisconnected, StateRecovering, StateUnrecoverable:
		return false
	case StateConnecting:
		return snap.Reconnecting
	default:
		return true
	}
}

func (m *Machine) pollStatus(ctx context.Context) Event {
	pollCtx, cancel := context.WithTimeout(ctx, m.opts.PollInterval)
	defer cancel()
	status, err := m.scanner.GetStatus(pollCtx)
	if err != nil {
		kind := ErrClientError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrPaperStatusTimedOut
		}
		return Event{Type: EventStatusFailed, Kind: kind, Err: err}
	}
	return Event{Type: EventStatus, Paper: status}
}

func (m *Machine) apply(ctx context.Context, snap Snapshot, ev Event, calibrateReply *chan error) Snapshot {
	params := Params{
		MaxScanAttempts:    m.opts.MaxScanAttempts,
		MaxConnectAttempts: m.opts.MaxConnectAttempts,
	}
	next, actions, unexpected := Transition(params, snap, ev)
	if unexpected {
		m.logger.Warn("event ignored in current state",
			logging.String("event", string(ev.Type)),
			logging.String(logging.FieldState, string(snap.State)),
			logging.String(logging.FieldEventType, "unexpected_event"),
		)
	}
	if next.State != snap.State {
		m.logger.Info("state changed",
			logging.String("from", string(snap.State)),
			logging.String(logging.FieldState, string(next.State)),
			logging.String("event", string(ev.Type)),
			logging.String(logging.FieldEventType, "state_change"),
		)
	}

	// Record actions run before the new status is published, so a sheet is
	// never reported accepted without its row in the store.
	for _, action := range actions {
		switch action {
		case ActionRecordAccepted:
			if err := m.record(ctx, next, true); err != nil {
				logging.ErrorWithContext(m.logger, "failed to record accepted sheet", "record_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "accepted ballot not persisted; halting"),
					logging.String(logging.FieldErrorHint, "inspect the data directory and restart"),
					logging.Alert("accepted ballot not persisted"),
				)
				next.State = StateUnrecoverable
				next.Error = ErrClientError
				continue
			}
			next.HaveSheet = false
			next.Adjudicated = false
		case ActionRecordRejected:
			if err := m.record(ctx, next, false); err != nil {
				logging.WarnWithContext(m.logger, "failed to record rejected sheet", "record_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "rejected sheet missing from the audit trail"),
					logging.String(logging.FieldErrorHint, "inspect the data directory"),
				)
			}
			next.HaveSheet = false
		default:
			m.execute(ctx, action)
		}
	}

	if *calibrateReply != nil && (ev.Type == EventCalibrateSucceeded || ev.Type == EventCalibrateFailed) {
		if ev.Type == EventCalibrateFailed {
			*calibrateReply <- errorOrKind(ev)
		} else {
			*calibrateReply <- nil
		}
		*calibrateReply = nil
	}

	m.publish(next)
	return next
}

func errorOrKind(ev Event) error {
	if ev.Err != nil {
		return ev.Err
	}
	return errors.New(string(ev.Kind))
}

func (m *Machine) record(ctx context.Context, snap Snapshot, accepted bool) error {
	if snap.Verdict == nil {
		return errors.New("no verdict for finished sheet")
	}
	rec := SheetRecord{
		Front:       snap.Front,
		Back:        snap.Back,
		Verdict:     *snap.Verdict,
		Adjudicated: snap.Adjudicated,
	}
	if accepted {
		return m.sink.SheetAccepted(ctx, rec)
	}
	return m.sink.SheetRejected(ctx, rec)
}

// execute launches one hardware action. Completions come back as events.
func (m *Machine) execute(ctx context.Context, action Action) {
	switch action {
	case ActionScan:
		go m.scan(ctx)
	case ActionEjectFront:
		go m.eject(ctx, m.scanner.EjectFront)
	case ActionEjectBack:
		go m.eject(ctx, m.scanner.EjectBack)
	case ActionReset:
		go m.reset(ctx)
	case ActionCalibrate:
		go m.calibrate(ctx)
	case ActionReconnect:
		go m.connect(ctx, true)
	}
}

func (m *Machine) scan(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	defer cancel()

	images, err := m.scanner.Scan(scanCtx)
	if err != nil {
		kind := ErrScanningFailed
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrScanningTimedOut
		}
		m.emit(ctx, Event{Type: EventScanFailed, Kind: kind, Err: err})
		return
	}
	front, back, err := m.interp.InterpretSheet(scanCtx, images)
	if err != nil {
		m.emit(ctx, Event{Type: EventScanFailed, Kind: ErrScanningFailed, Err: err})
		return
	}
	verdict := classify.Sheet(front, back)
	m.emit(ctx, Event{Type: EventScanSucceeded, Front: front, Back: back, Verdict: verdict})
}

func (m *Machine) eject(ctx context.Context, op func(context.Context) error) {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	defer cancel()
	if err := op(opCtx); err != nil {
		m.emit(ctx, Event{Type: EventEjectFailed, Kind: ErrClientError, Err: err})
		return
	}
	m.emit(ctx, Event{Type: EventEjectSucceeded})
}

func (m *Machine) reset(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	defer cancel()
	if err := m.scanner.Reset(opCtx); err != nil {
		m.emit(ctx, Event{Type: EventResetFailed, Kind: ErrClientError, Err: err})
		return
	}
	m.emit(ctx, Event{Type: EventResetSucceeded})
}

func (m *Machine) calibrate(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.CalibrationTimeout)
	defer cancel()
	if err := m.scanner.Calibrate(opCtx); err != nil {
		m.emit(ctx, Event{Type: EventCalibrateFailed, Kind: ErrCalibrationFailed, Err: err})
		return
	}
	m.emit(ctx, Event{Type: EventCalibrateSucceeded})
}

// connect opens the device session. With delay set it waits out the
// reconnect backoff first, so a flapping device is not hammered.
func (m *Machine) connect(ctx context.Context, delay bool) {
	_ = m.scanner.Disconnect()
	if delay {
		select {
		case <-time.After(m.opts.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
	if err := m.scanner.Connect(ctx); err != nil {
		m.emit(ctx, Event{Type: EventConnectFailed, Kind: ErrClientError, Err: err})
		return
	}
	m.emit(ctx, Event{Type: EventConnected})
}

func (m *Machine) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (m *Machine) publish(snap Snapshot) {
	m.mu.Lock()
	m.status = Status{State: snap.State, Error: snap.Error, Verdict: snap.Verdict}
	m.mu.Unlock()
}
