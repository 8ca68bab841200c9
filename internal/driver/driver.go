// Package driver defines the scanner hardware capability interface. The
// control loop never branches on which backend is behind it.
package driver

import (
	"context"
	"errors"
	"fmt"

	"tally/internal/interpret"
)

// Status is one hardware paper-status snapshot.
type Status struct {
	// FrontHasPaper reports paper at the input tray.
	FrontHasPaper bool
	// BackHasPaper reports paper held in the rear transport.
	BackHasPaper bool
	// Jammed reports a paper jam anywhere in the transport.
	Jammed bool
}

// NoPaper reports a fully empty transport.
func (s Status) NoPaper() bool {
	return !s.FrontHasPaper && !s.BackHasPaper && !s.Jammed
}

// Scanner is the capability interface over one physical ballot scanner.
// Commands do not support mid-operation cancellation; the context bounds the
// wait, not the hardware.
type Scanner interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// GetStatus polls the paper sensors.
	GetStatus(ctx context.Context) (Status, error)
	// Scan feeds the front sheet, captures both sides, and holds the
	// sheet in the rear transport.
	Scan(ctx context.Context) (interpret.SheetImages, error)
	// EjectFront returns the held sheet to the voter.
	EjectFront(ctx context.Context) error
	// EjectBack drops the held sheet into the ballot bag.
	EjectBack(ctx context.Context) error
	// Reset reinitializes the transport after a cleared jam.
	Reset(ctx context.Context) error
	Calibrate(ctx context.Context) error
}

// ErrNotConnected indicates a command was issued with no device session.
var ErrNotConnected = errors.New("scanner not connected")

// ErrorCode classifies device failures.
type ErrorCode string

const (
	CodeIO          ErrorCode = "io_error"
	CodeDoubleFeed  ErrorCode = "double_feed"
	CodeNoPaper     ErrorCode = "no_paper"
	CodeJam         ErrorCode = "jam"
	CodeCalibration ErrorCode = "calibration_failed"
)

// DeviceError is a typed failure from a hardware command.
type DeviceError struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// NewDeviceError wraps a failure with its operation and code.
func NewDeviceError(op string, code ErrorCode, err error) *DeviceError {
	return &DeviceError{Code: code, Op: op, Err: err}
}

// CodeOf extracts the error code from a device error chain, CodeIO when the
// chain carries none.
func CodeOf(err error) ErrorCode {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code
	}
	return CodeIO
}
