package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/logging"
	"tally/internal/store"
)

// ErrStopped indicates the coordinator is not running.
var ErrStopped = errors.New("export coordinator stopped")

type requestKind int

const (
	reqSheet requestKind = iota
	reqDrain
	reqFinalize
)

type request struct {
	kind    requestKind
	sheetID string
	// reply is nil for fire-and-forget requests.
	reply chan error
}

// Coordinator serializes every cast-vote-record write behind a single worker
// goroutine. Continuous per-sheet exports, operator-triggered full exports,
// and the polls-closing export all queue through the same channel, so no two
// media writes ever interleave.
type Coordinator struct {
	store    *store.Store
	target   *Target
	election ElectionContext
	logger   *slog.Logger

	requests chan request

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewCoordinator builds a coordinator; call Start before use.
func NewCoordinator(st *store.Store, target *Target, election ElectionContext, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    st,
		target:   target,
		election: election,
		logger:   logging.NewComponentLogger(logger, "export"),
		requests: make(chan request, 64),
	}
}

// Start launches the worker.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.run(ctx)
}

// Stop drains nothing and halts the worker. Pending markers survive in the
// store; the next start or full export picks them up.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Coordinator) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// EnqueueSheet registers a sheet for continuous export. Never blocks the
// scan loop: when the queue is full the sheet simply stays pending and a
// later trigger exports it.
func (c *Coordinator) EnqueueSheet(sheetID string) {
	if !c.isRunning() {
		return
	}
	select {
	case c.requests <- request{kind: reqSheet, sheetID: sheetID}:
	default:
		logging.WarnWithContext(c.logger, "export queue full; sheet deferred", "export_queue_full",
			logging.String(logging.FieldSheetID, sheetID),
			logging.String(logging.FieldImpact, "sheet export deferred until the next trigger"),
			logging.String(logging.FieldErrorHint, "run a full export or reattach the drive"),
		)
	}
}

// Nudge schedules a drain of all pending sheets, typically after the export
// drive is attached. Non-blocking.
func (c *Coordinator) Nudge() {
	if !c.isRunning() {
		return
	}
	select {
	case c.requests <- request{kind: reqDrain}:
	default:
	}
}

// ExportAll exports every pending sheet and blocks until done.
func (c *Coordinator) ExportAll(ctx context.Context) error {
	return c.submit(ctx, request{kind: reqDrain})
}

// Finalize runs the polls-closing export: drains pending sheets, writes the
// completion marker, and records completion in the store.
func (c *Coordinator) Finalize(ctx context.Context) error {
	return c.submit(ctx, request{kind: reqFinalize})
}

func (c *Coordinator) submit(ctx context.Context, req request) error {
	if !c.isRunning() {
		return ErrStopped
	}
	req.reply = make(chan error, 1)
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			var err error
			switch req.kind {
			case reqSheet:
				err = c.exportSheet(ctx, req.sheetID)
			case reqDrain:
				err = c.drain(ctx)
			case reqFinalize:
				err = c.finalize(ctx)
			}
			if req.reply != nil {
				req.reply <- err
			} else if err != nil {
				logging.WarnWithContext(c.logger, "continuous export failed; sheet stays pending", "export_failed",
					logging.String(logging.FieldSheetID, req.sheetID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "cast vote record not yet on the drive"),
					logging.String(logging.FieldErrorHint, "attach the export drive or run a full export"),
				)
			}
		}
	}
}

// exportSheet writes one sheet's record and clears its pending marker.
// Skips sheets whose marker is already cleared.
func (c *Coordinator) exportSheet(ctx context.Context, sheetID string) error {
	sheet, err := c.store.GetSheet(ctx, sheetID)
	if err != nil {
		return err
	}
	if sheet == nil {
		return fmt.Errorf("sheet %s not found", sheetID)
	}
	if !sheet.ExportPending {
		return nil
	}
	return c.writeSheet(ctx, sheet)
}

func (c *Coordinator) writeSheet(ctx context.Context, sheet *store.Sheet) error {
	now := time.Now().UTC()
	record, err := buildRecord(sheet, c.election, now)
	if err != nil {
		return err
	}

	sessionID, err := c.store.ExportSessionID(ctx, uuid.NewString)
	if err != nil {
		return err
	}

	if err := c.target.AppendRecord(RecordFileName(sessionID), record); err != nil {
		return err
	}

	if err := c.store.MarkSheetExported(ctx, sheet.ID, now); err != nil {
		if errors.Is(err, store.ErrAlreadyExported) {
			// The write landed but the marker was already cleared:
			// another path exported this sheet first. Flag it; the
			// record file now holds a duplicate line.
			logging.ErrorWithContext(c.logger, "sheet exported twice", "export_duplicate",
				logging.String(logging.FieldSheetID, sheet.ID),
				logging.String(logging.FieldErrorHint, "reconcile the record file against the store"),
			)
		}
		return err
	}

	c.logger.Info("cast vote record exported",
		logging.String(logging.FieldSheetID, sheet.ID),
		logging.Bool("counted", sheet.Counted),
		logging.String(logging.FieldEventType, "cvr_exported"),
	)
	return nil
}

func (c *Coordinator) drain(ctx context.Context) error {
	pending, err := c.store.PendingExportSheets(ctx)
	if err != nil {
		return err
	}
	for _, sheet := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Drive-level failures affect every remaining sheet; stop early.
		if err := c.writeSheet(ctx, sheet); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) finalize(ctx context.Context) error {
	if err := c.drain(ctx); err != nil {
		return err
	}

	sessionID, err := c.store.ExportSessionID(ctx, uuid.NewString)
	if err != nil {
		return err
	}
	ballots, err := c.store.BallotsCounted(ctx)
	if err != nil {
		return err
	}
	marker, err := json.Marshal(map[string]any{
		"session_id":      sessionID,
		"ballots_counted": ballots,
		"completed_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal completion marker: %w", err)
	}
	if err := c.target.WriteMarker(CompleteMarkerName(sessionID), marker); err != nil {
		return err
	}
	if err := c.store.MarkExportComplete(ctx); err != nil {
		return err
	}

	c.logger.Info("polls-closing export complete",
		logging.Int64("ballots_counted", ballots),
		logging.String(logging.FieldEventType, "export_finalized"),
	)
	return nil
}
