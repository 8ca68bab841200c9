// Package usbdrive watches udev netlink events for the export drive. When a
// USB storage partition appears the monitor notifies the export coordinator,
// so sheets stranded by a missing drive get written without operator action.
package usbdrive

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"tally/internal/logging"
)

// Monitor listens for udev netlink events and fires the attach handler when
// a USB storage partition is added.
type Monitor struct {
	logger   *slog.Logger
	onAttach func(ctx context.Context, device string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewMonitor builds a monitor; onAttach runs on the monitor goroutine and
// must not block.
func NewMonitor(logger *slog.Logger, onAttach func(ctx context.Context, device string)) *Monitor {
	return &Monitor{
		logger:   logging.NewComponentLogger(logger, "usbdrive"),
		onAttach: onAttach,
	}
}

// Start begins listening for udev netlink events. A failure to open the
// netlink socket is non-fatal: exports still run on manual triggers.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; drive detection will rely on manual export triggers",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "automatic export retry on drive attach unavailable"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("usb drive monitor started",
		logging.String(logging.FieldEventType, "usb_monitor_started"),
	)
	return nil
}

// Stop shuts down the monitor.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("usb drive monitor stopped",
		logging.String(logging.FieldEventType, "usb_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			m.logger.Warn("usb drive monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "usb_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "drive attach detection may be affected"),
			)
		}
	}
}

// buildMatcher matches added USB storage partitions:
// SUBSYSTEM=block, ID_BUS=usb, DEVTYPE=partition, ACTION=add.
func buildMatcher() netlink.Matcher {
	action := "add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"ID_BUS":    "usb",
			"DEVTYPE":   "partition",
		},
	})
	return rules
}

func (m *Monitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if devname == "" {
		m.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}

	m.logger.Info("usb storage attached",
		logging.String(logging.FieldEventType, "usb_drive_attached"),
		logging.String("device", devname),
	)

	if m.onAttach != nil {
		m.onAttach(ctx, devname)
	}
}

func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
