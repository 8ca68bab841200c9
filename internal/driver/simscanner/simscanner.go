// Package simscanner is the simulated scanner backend. Tests and the
// default configuration drive it through explicit physical actions
// (LoadSheet, RemoveSheet, SetJammed) and failure injection.
package simscanner

import (
	"context"
	"errors"
	"sync"

	"tally/internal/driver"
	"tally/internal/interpret"
)

// Device is an in-memory scanner. All methods are safe for concurrent use.
type Device struct {
	mu        sync.Mutex
	connected bool
	status    driver.Status
	held      bool
	images    interpret.SheetImages

	connectErrs []error
	statusErrs  []error
	scanErrs    []error
	ejectErrs   []error
	calibErr    error
	resets      int

	scanGate chan struct{}
}

// New returns a disconnected simulated scanner with an empty transport.
func New() *Device {
	return &Device{}
}

func (d *Device) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := pop(&d.connectErrs); err != nil {
		return driver.NewDeviceError("connect", driver.CodeIO, err)
	}
	d.connected = true
	return nil
}

func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Device) GetStatus(ctx context.Context) (driver.Status, error) {
	if err := ctx.Err(); err != nil {
		return driver.Status{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return driver.Status{}, driver.ErrNotConnected
	}
	if err := pop(&d.statusErrs); err != nil {
		return driver.Status{}, driver.NewDeviceError("get status", driver.CodeIO, err)
	}
	return d.status, nil
}

func (d *Device) Scan(ctx context.Context) (interpret.SheetImages, error) {
	if err := ctx.Err(); err != nil {
		return interpret.SheetImages{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return interpret.SheetImages{}, driver.ErrNotConnected
	}
	if err := pop(&d.scanErrs); err != nil {
		return interpret.SheetImages{}, driver.NewDeviceError("scan", driver.CodeIO, err)
	}
	if !d.status.FrontHasPaper {
		return interpret.SheetImages{}, driver.NewDeviceError("scan", driver.CodeNoPaper, nil)
	}
	if gate := d.scanGate; gate != nil {
		d.scanGate = nil
		d.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
			d.mu.Lock()
			return interpret.SheetImages{}, ctx.Err()
		}
		d.mu.Lock()
	}
	// The sheet feeds through and is held in the rear transport.
	d.status.FrontHasPaper = false
	d.status.BackHasPaper = true
	d.held = true
	return d.images, nil
}

func (d *Device) EjectFront(ctx context.Context) error {
	return d.eject(ctx, "eject front", func() {
		d.status.BackHasPaper = false
		d.status.FrontHasPaper = true
		d.held = false
	})
}

func (d *Device) EjectBack(ctx context.Context) error {
	return d.eject(ctx, "eject back", func() {
		d.status.BackHasPaper = false
		d.held = false
	})
}

func (d *Device) eject(ctx context.Context, op string, move func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return driver.ErrNotConnected
	}
	if err := pop(&d.ejectErrs); err != nil {
		return driver.NewDeviceError(op, driver.CodeIO, err)
	}
	move()
	return nil
}

func (d *Device) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return driver.ErrNotConnected
	}
	d.resets++
	d.status = driver.Status{}
	d.held = false
	return nil
}

func (d *Device) Calibrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return driver.ErrNotConnected
	}
	if d.calibErr != nil {
		err := d.calibErr
		d.calibErr = nil
		return driver.NewDeviceError("calibrate", driver.CodeCalibration, err)
	}
	if !d.status.NoPaper() {
		return driver.NewDeviceError("calibrate", driver.CodeCalibration, errors.New("paper in transport"))
	}
	return nil
}

// LoadSheet places a sheet at the input tray with its image references.
func (d *Device) LoadSheet(images interpret.SheetImages) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.FrontHasPaper = true
	d.images = images
}

// InsertSecondSheet simulates a double feed: paper appears at the front
// while another sheet is already in the transport.
func (d *Device) InsertSecondSheet() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.FrontHasPaper = true
}

// RemoveFrontSheet simulates the voter taking the front sheet away.
func (d *Device) RemoveFrontSheet() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.FrontHasPaper = false
}

// SetJammed toggles the jam sensor.
func (d *Device) SetJammed(jammed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Jammed = jammed
}

// SetPaper forces the raw sensor state, for reconnect-recovery scenarios.
func (d *Device) SetPaper(front, back bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.FrontHasPaper = front
	d.status.BackHasPaper = back
}

// FailNextConnect queues connect failures.
func (d *Device) FailNextConnect(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErrs = append(d.connectErrs, errs...)
}

// FailNextStatus queues status-poll failures.
func (d *Device) FailNextStatus(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusErrs = append(d.statusErrs, errs...)
}

// FailNextScan queues scan failures.
func (d *Device) FailNextScan(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanErrs = append(d.scanErrs, errs...)
}

// FailNextEject queues eject failures.
func (d *Device) FailNextEject(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ejectErrs = append(d.ejectErrs, errs...)
}

// FailNextCalibrate makes the next calibration fail.
func (d *Device) FailNextCalibrate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calibErr = err
}

// GateScans holds the next Scan call open until the returned release
// function runs, so a test can change sensor state mid-scan.
func (d *Device) GateScans() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.scanGate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Drop simulates a power interruption: the session dies with the paper left
// where it physically sits.
func (d *Device) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

// Resets reports how many hardware resets were issued.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Connected reports the session state.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
