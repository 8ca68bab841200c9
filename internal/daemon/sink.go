package daemon

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tally/internal/logging"
	"tally/internal/machine"
	"tally/internal/store"
)

// sheetSink persists finished sheets into the ongoing batch and registers
// them for continuous export. The insert carries the export-pending marker,
// so persistence and export registration are one write.
type sheetSink struct {
	daemon *Daemon
}

func (s *sheetSink) SheetAccepted(ctx context.Context, rec machine.SheetRecord) error {
	return s.persist(ctx, rec, true)
}

func (s *sheetSink) SheetRejected(ctx context.Context, rec machine.SheetRecord) error {
	return s.persist(ctx, rec, false)
}

func (s *sheetSink) persist(ctx context.Context, rec machine.SheetRecord, counted bool) error {
	d := s.daemon
	batch, err := d.store.OngoingBatch(ctx)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("no ongoing batch for finished sheet")
	}

	sheet := &store.Sheet{
		ID:          uuid.NewString(),
		BatchID:     batch.ID,
		Front:       rec.Front,
		Back:        rec.Back,
		Verdict:     rec.Verdict,
		Counted:     counted,
		Adjudicated: rec.Adjudicated,
	}
	if err := d.store.InsertSheet(ctx, sheet); err != nil {
		return err
	}

	d.logger.Info("sheet recorded",
		logging.String(logging.FieldSheetID, sheet.ID),
		logging.String(logging.FieldBatchID, batch.ID),
		logging.Bool("counted", counted),
		logging.Bool("adjudicated", rec.Adjudicated),
		logging.String("verdict", string(rec.Verdict.Outcome)),
		logging.String(logging.FieldEventType, "sheet_recorded"),
	)

	d.exporter.EnqueueSheet(sheet.ID)
	return nil
}
