package machine

import "tally/internal/classify"

// Transition is the pure state transition function: given the current
// snapshot and one event, it returns the next snapshot plus the actions the
// engine must execute. The third result reports an event the current state
// does not handle; such events are explicit no-ops, surfaced for logging.
func Transition(p Params, snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	// Hardware I/O failures have the same meaning almost everywhere:
	// drop the session and reconnect.
	if ev.Type == EventStatusFailed {
		switch snap.State {
		case StateUnrecoverable, StateRecovering, StateDisconnected, StateConnecting:
			return snap, nil, false
		}
		snap.State = StateRecovering
		snap.Error = failureKind(ev, ErrClientError)
		snap.ConnectAttempts = 0
		snap.Reconnecting = true
		return snap, []Action{ActionReconnect}, false
	}

	switch snap.State {
	case StateConnecting:
		return transitionConnecting(p, snap, ev)
	case StateDisconnected, StateRecovering:
		return transitionReconnectWait(p, snap, ev)
	case StateNoPaper:
		return transitionNoPaper(snap, ev)
	case StateReadyToScan:
		return transitionReadyToScan(snap, ev)
	case StateScanning:
		return transitionScanning(p, snap, ev)
	case StateBothSidesHavePaper:
		return transitionBothSides(p, snap, ev)
	case StateReadyToAccept, StateNeedsReview:
		return transitionAwaitingDecision(snap, ev)
	case StateAccepting, StateAcceptingAfterReview:
		return transitionAccepting(snap, ev)
	case StateAccepted:
		return transitionAccepted(snap, ev)
	case StateReturning:
		return transitionReturning(snap, ev)
	case StateReturned:
		return transitionReturned(snap, ev)
	case StateRejecting:
		return transitionRejecting(snap, ev)
	case StateRejected:
		return transitionRejected(snap, ev)
	case StateJammed:
		return transitionJammed(snap, ev)
	case StateCalibrating:
		return transitionCalibrating(snap, ev)
	case StateUnrecoverable:
		// Terminal: nothing transitions out without operator
		// intervention outside this component.
		return snap, nil, isCommand(ev)
	default:
		return snap, nil, true
	}
}

// transitionConnecting covers the window between a successful session open
// and the first paper status, which decides the entry state.
func transitionConnecting(p Params, snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventConnected:
		snap.ConnectAttempts = 0
		snap.Reconnecting = true
		return snap, nil, false
	case EventConnectFailed:
		return connectFailure(p, snap, ev)
	case EventStatus:
		return reconnectMapping(snap, ev)
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionReconnectWait(p Params, snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventConnected:
		snap.State = StateConnecting
		snap.ConnectAttempts = 0
		snap.Reconnecting = true
		return snap, nil, false
	case EventConnectFailed:
		return connectFailure(p, snap, ev)
	default:
		return snap, nil, isCommand(ev)
	}
}

func connectFailure(p Params, snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	snap.ConnectAttempts++
	if snap.ConnectAttempts >= p.MaxConnectAttempts {
		snap.State = StateUnrecoverable
		snap.Error = failureKind(ev, ErrClientError)
		return snap, nil, false
	}
	snap.State = StateDisconnected
	return snap, []Action{ActionReconnect}, false
}

// reconnectMapping places the machine according to where paper physically
// sits after a (re)connect, so the operator is told exactly what to remove.
func reconnectMapping(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	snap.Reconnecting = false
	snap.HaveSheet = false
	paper := ev.Paper
	switch {
	case paper.Jammed:
		snap.State = StateJammed
		snap.ResetIssued = false
		return snap, nil, false
	case paper.FrontHasPaper && paper.BackHasPaper:
		snap.State = StateJammed
		snap.Error = ErrPaperInBothSidesAfterReconnect
		snap.ResetIssued = false
		return snap, nil, false
	case paper.BackHasPaper:
		snap.State = StateRejecting
		snap.Error = ErrPaperInBackAfterReconnect
		return snap, []Action{ActionEjectFront}, false
	case paper.FrontHasPaper:
		snap.State = StateRejected
		snap.Error = ErrPaperInFrontAfterReconnect
		return snap, nil, false
	default:
		return clearedToNoPaper(snap), nil, false
	}
}

func transitionNoPaper(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.FrontHasPaper && paper.BackHasPaper:
			return enterBothSides(snap, StateNoPaper, ""), nil, false
		case paper.BackHasPaper:
			snap.State = StateRejecting
			snap.Error = ErrUnexpectedPaperStatus
			snap.HaveSheet = false
			return snap, []Action{ActionEjectFront}, false
		case paper.FrontHasPaper:
			snap.State = StateReadyToScan
			return snap, nil, false
		default:
			return snap, nil, false
		}
	case EventCalibrateCommand:
		snap.State = StateCalibrating
		return snap, []Action{ActionCalibrate}, false
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionReadyToScan(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.FrontHasPaper && paper.BackHasPaper:
			return enterBothSides(snap, StateReadyToScan, ""), nil, false
		case paper.BackHasPaper:
			snap.State = StateRejecting
			snap.Error = ErrUnexpectedPaperStatus
			snap.HaveSheet = false
			return snap, []Action{ActionEjectFront}, false
		case paper.FrontHasPaper:
			return snap, nil, false
		default:
			return clearedToNoPaper(snap), nil, false
		}
	case EventScanCommand:
		snap.State = StateScanning
		snap.ScanAttempts = 1
		snap.Error = ErrNone
		return snap, []Action{ActionScan}, false
	case EventCalibrateCommand:
		snap.State = StateCalibrating
		return snap, []Action{ActionCalibrate}, false
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionScanning(p Params, snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventScanSucceeded:
		snap.Front = ev.Front
		snap.Back = ev.Back
		snap.HaveSheet = true
		snap.Error = ErrNone
		verdict := ev.Verdict
		snap.Verdict = &verdict
		switch verdict.Outcome {
		case classify.OutcomeValid:
			snap.State = StateReadyToAccept
			return snap, nil, false
		case classify.OutcomeNeedsReview:
			snap.State = StateNeedsReview
			return snap, nil, false
		default:
			snap.State = StateRejecting
			return snap, []Action{ActionEjectFront}, false
		}
	case EventScanFailed:
		snap.Error = failureKind(ev, ErrScanningFailed)
		if snap.ScanAttempts < p.MaxScanAttempts {
			snap.ScanAttempts++
			return snap, []Action{ActionScan}, false
		}
		snap.State = StateRejecting
		snap.Error = ErrScanningFailed
		snap.HaveSheet = false
		return snap, []Action{ActionEjectFront}, false
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.FrontHasPaper && paper.BackHasPaper:
			return enterBothSides(snap, StateScanning, ""), nil, false
		default:
			// Sensors flicker while the sheet feeds through.
			return snap, nil, false
		}
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionBothSides(p Params, snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventStatus:
		paper := ev.Paper
		if paper.Jammed {
			return enterJammed(snap), nil, false
		}
		if paper.FrontHasPaper && paper.BackHasPaper {
			return snap, nil, false
		}
		// Extra sheet removed: resume the suspended operation where it
		// left off rather than restarting it.
		snap.State = snap.ResumeState
		snap.Error = ErrNone
		resumeAction := snap.ResumeAction
		pending := snap.Pending
		snap.ResumeState = ""
		snap.ResumeAction = ""
		snap.Pending = nil
		if pending != nil {
			return Transition(p, snap, *pending)
		}
		if resumeAction != "" {
			return snap, []Action{resumeAction}, false
		}
		return snap, nil, false
	case EventScanSucceeded, EventScanFailed, EventEjectSucceeded, EventEjectFailed:
		// An in-flight operation completed while the operator clears the
		// double feed; hold the result until the transport is clear.
		event := ev
		snap.Pending = &event
		return snap, nil, false
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionAwaitingDecision(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventAcceptCommand:
		if snap.State == StateNeedsReview {
			snap.State = StateAcceptingAfterReview
			snap.Adjudicated = true
		} else {
			snap.State = StateAccepting
		}
		return snap, []Action{ActionEjectBack}, false
	case EventReturnCommand:
		snap.State = StateReturning
		return snap, []Action{ActionEjectFront}, false
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.FrontHasPaper && paper.BackHasPaper:
			return enterBothSides(snap, snap.State, ""), nil, false
		case paper.NoPaper():
			// The held sheet left the transport without a command.
			snap = clearedToNoPaper(snap)
			snap.Error = ErrUnexpectedPaperStatus
			return snap, nil, false
		default:
			return snap, nil, false
		}
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionAccepting(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventEjectSucceeded:
		snap.State = StateAccepted
		return snap, []Action{ActionRecordAccepted}, false
	case EventEjectFailed:
		return ejectFailure(snap, ev)
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.FrontHasPaper && paper.BackHasPaper:
			return enterBothSides(snap, snap.State, ""), nil, false
		default:
			return snap, nil, false
		}
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionAccepted(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.BackHasPaper:
			// The accepted sheet failed to drop into the bag. It was
			// already recorded; HaveSheet stays false so the rejection
			// path cannot record it a second time.
			snap.State = StateRejecting
			snap.Error = ErrPaperInBackAfterAccept
			snap.HaveSheet = false
			return snap, []Action{ActionEjectFront}, false
		case paper.FrontHasPaper:
			snap = clearedToNoPaper(snap)
			snap.State = StateReadyToScan
			return snap, nil, false
		default:
			return clearedToNoPaper(snap), nil, false
		}
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionReturning(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventEjectSucceeded:
		snap.State = StateReturned
		if snap.HaveSheet {
			return snap, []Action{ActionRecordRejected}, false
		}
		return snap, nil, false
	case EventEjectFailed:
		return ejectFailure(snap, ev)
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.FrontHasPaper && paper.BackHasPaper:
			return enterBothSides(snap, StateReturning, ""), nil, false
		default:
			return snap, nil, false
		}
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionReturned(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.NoPaper():
			return clearedToNoPaper(snap), nil, false
		default:
			return snap, nil, false
		}
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionRejecting(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventEjectSucceeded:
		snap.State = StateRejected
		if snap.HaveSheet {
			return snap, []Action{ActionRecordRejected}, false
		}
		return snap, nil, false
	case EventEjectFailed:
		return ejectFailure(snap, ev)
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.FrontHasPaper && paper.BackHasPaper:
			return enterBothSides(snap, StateRejecting, ""), nil, false
		default:
			return snap, nil, false
		}
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionRejected(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventStatus:
		paper := ev.Paper
		switch {
		case paper.Jammed:
			return enterJammed(snap), nil, false
		case paper.NoPaper():
			return clearedToNoPaper(snap), nil, false
		default:
			return snap, nil, false
		}
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionJammed(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventStatus:
		paper := ev.Paper
		if paper.Jammed {
			return snap, nil, false
		}
		if paper.NoPaper() && !snap.ResetIssued {
			// Jam cleared: reinitialize the transport before resuming.
			snap.ResetIssued = true
			return snap, []Action{ActionReset}, false
		}
		return snap, nil, false
	case EventResetSucceeded:
		return clearedToNoPaper(snap), nil, false
	case EventResetFailed:
		snap.State = StateRecovering
		snap.Error = ErrClientError
		snap.ConnectAttempts = 0
		snap.Reconnecting = true
		return snap, []Action{ActionReconnect}, false
	default:
		return snap, nil, isCommand(ev)
	}
}

func transitionCalibrating(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	switch ev.Type {
	case EventCalibrateSucceeded:
		return clearedToNoPaper(snap), nil, false
	case EventCalibrateFailed:
		snap = clearedToNoPaper(snap)
		snap.Error = ErrCalibrationFailed
		return snap, nil, false
	case EventStatus:
		return snap, nil, false
	default:
		return snap, nil, isCommand(ev)
	}
}

func ejectFailure(snap Snapshot, ev Event) (Snapshot, []Action, bool) {
	snap.State = StateRecovering
	snap.Error = failureKind(ev, ErrClientError)
	snap.ConnectAttempts = 0
	snap.Reconnecting = true
	return snap, []Action{ActionReconnect}, false
}

func enterJammed(snap Snapshot) Snapshot {
	snap.State = StateJammed
	snap.ResetIssued = false
	snap.ResumeState = ""
	snap.ResumeAction = ""
	snap.Pending = nil
	return snap
}

func enterBothSides(snap Snapshot, resume State, resumeAction Action) Snapshot {
	snap.ResumeState = resume
	snap.ResumeAction = resumeAction
	snap.State = StateBothSidesHavePaper
	snap.Error = ErrBothSidesHavePaper
	return snap
}

// clearedToNoPaper is the clean-slate entry into no_paper: the transport is
// empty and the previous sheet's verdict and error no longer apply.
func clearedToNoPaper(snap Snapshot) Snapshot {
	snap.State = StateNoPaper
	snap.Error = ErrNone
	snap.Verdict = nil
	snap.HaveSheet = false
	snap.Adjudicated = false
	snap.ScanAttempts = 0
	snap.ResetIssued = false
	snap.ResumeState = ""
	snap.ResumeAction = ""
	snap.Pending = nil
	return snap
}

func failureKind(ev Event, fallback ErrorKind) ErrorKind {
	if ev.Kind != "" {
		return ev.Kind
	}
	return fallback
}

func isCommand(ev Event) bool {
	switch ev.Type {
	case EventScanCommand, EventAcceptCommand, EventReturnCommand, EventCalibrateCommand:
		return true
	default:
		return false
	}
}
