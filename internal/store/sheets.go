package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tally/internal/classify"
	"tally/internal/interpret"
)

const sheetColumns = "id, batch_id, front_json, back_json, verdict, reasons_json, counted, adjudicated, export_pending, created_at, exported_at"

// ErrAlreadyExported indicates a sheet's pending-export marker was already
// cleared by an earlier export.
var ErrAlreadyExported = errors.New("sheet already exported")

type verdictDetail struct {
	Reasons []interpret.AdjudicationReason `json:"reasons,omitempty"`
	Invalid classify.InvalidReason         `json:"invalid,omitempty"`
}

// InsertSheet persists a classified sheet under its batch. The row carries
// its own pending-export marker, so sheet creation and export registration
// are a single atomic write.
func (s *Store) InsertSheet(ctx context.Context, sheet *Sheet) error {
	if sheet == nil {
		return errors.New("sheet is nil")
	}
	if sheet.ID == "" {
		return errors.New("sheet id is empty")
	}
	if sheet.BatchID == "" {
		return errors.New("sheet batch id is empty")
	}

	frontJSON, err := json.Marshal(sheet.Front)
	if err != nil {
		return fmt.Errorf("marshal front page: %w", err)
	}
	backJSON, err := json.Marshal(sheet.Back)
	if err != nil {
		return fmt.Errorf("marshal back page: %w", err)
	}
	detailJSON, err := json.Marshal(verdictDetail{
		Reasons: sheet.Verdict.Reasons,
		Invalid: sheet.Verdict.Invalid,
	})
	if err != nil {
		return fmt.Errorf("marshal verdict detail: %w", err)
	}

	if sheet.CreatedAt.IsZero() {
		sheet.CreatedAt = time.Now().UTC()
	}
	sheet.ExportPending = true

	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO sheets (
            id, batch_id, front_json, back_json, verdict, reasons_json,
            counted, adjudicated, export_pending, created_at, exported_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sheet.ID,
		sheet.BatchID,
		string(frontJSON),
		string(backJSON),
		string(sheet.Verdict.Outcome),
		string(detailJSON),
		boolToInt(sheet.Counted),
		boolToInt(sheet.Adjudicated),
		1,
		sheet.CreatedAt.Format(time.RFC3339Nano),
		nil,
	); err != nil {
		return fmt.Errorf("insert sheet: %w", err)
	}
	return nil
}

// GetSheet fetches a sheet by identifier. Returns nil when absent.
func (s *Store) GetSheet(ctx context.Context, id string) (*Sheet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sheetColumns+` FROM sheets WHERE id = ?`, id)
	sheet, err := scanSheet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sheet: %w", err)
	}
	return sheet, nil
}

// BallotsCounted returns the number of sheets persisted with counted=true.
// This is the authoritative ballot count; there is no in-memory counter.
func (s *Store) BallotsCounted(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sheets WHERE counted = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ballots: %w", err)
	}
	return count, nil
}

// PendingExportSheets returns sheets whose cast vote records still need
// exporting, oldest first.
func (s *Store) PendingExportSheets(ctx context.Context) ([]*Sheet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sheetColumns+` FROM sheets WHERE export_pending = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list pending sheets: %w", err)
	}
	defer rows.Close()

	var sheets []*Sheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending sheet: %w", err)
		}
		sheets = append(sheets, sheet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sheets: %w", err)
	}
	return sheets, nil
}

// HasUnexportedSheets reports whether any sheet still owes an export.
func (s *Store) HasUnexportedSheets(ctx context.Context) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sheets WHERE export_pending = 1 LIMIT 1`).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check unexported sheets: %w", err)
	}
	return true, nil
}

// MarkSheetExported clears a sheet's pending-export marker. The guarded
// update makes clearing idempotence-checked: a second clear returns
// ErrAlreadyExported instead of silently succeeding.
func (s *Store) MarkSheetExported(ctx context.Context, id string, exportedAt time.Time) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE sheets SET export_pending = 0, exported_at = ? WHERE id = ? AND export_pending = 1`,
		exportedAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark sheet exported: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark sheet exported rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sheet %s: %w", id, ErrAlreadyExported)
	}
	return nil
}

// SheetsInBatch lists a batch's sheets, oldest first.
func (s *Store) SheetsInBatch(ctx context.Context, batchID string) ([]*Sheet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sheetColumns+` FROM sheets WHERE batch_id = ? ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch sheets: %w", err)
	}
	defer rows.Close()

	var sheets []*Sheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch sheet: %w", err)
		}
		sheets = append(sheets, sheet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch sheets: %w", err)
	}
	return sheets, nil
}

func scanSheet(scanner interface{ Scan(dest ...any) error }) (*Sheet, error) {
	var (
		id            string
		batchID       string
		frontJSON     string
		backJSON      string
		verdictStr    string
		reasonsJSON   sql.NullString
		counted       int
		adjudicated   int
		exportPending int
		createdRaw    string
		exportedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&batchID,
		&frontJSON,
		&backJSON,
		&verdictStr,
		&reasonsJSON,
		&counted,
		&adjudicated,
		&exportPending,
		&createdRaw,
		&exportedRaw,
	); err != nil {
		return nil, err
	}

	sheet := &Sheet{
		ID:            id,
		BatchID:       batchID,
		Counted:       counted != 0,
		Adjudicated:   adjudicated != 0,
		ExportPending: exportPending != 0,
	}
	sheet.Verdict.Outcome = classify.Outcome(verdictStr)

	if err := json.Unmarshal([]byte(frontJSON), &sheet.Front); err != nil {
		return nil, fmt.Errorf("unmarshal front page: %w", err)
	}
	if err := json.Unmarshal([]byte(backJSON), &sheet.Back); err != nil {
		return nil, fmt.Errorf("unmarshal back page: %w", err)
	}
	if reasonsJSON.Valid && reasonsJSON.String != "" {
		var detail verdictDetail
		if err := json.Unmarshal([]byte(reasonsJSON.String), &detail); err != nil {
			return nil, fmt.Errorf("unmarshal verdict detail: %w", err)
		}
		sheet.Verdict.Reasons = detail.Reasons
		sheet.Verdict.Invalid = detail.Invalid
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		sheet.CreatedAt = created
	}
	if exportedRaw.Valid {
		if exported, err := parseTimeString(exportedRaw.String); err == nil {
			sheet.ExportedAt = &exported
		}
	}
	return sheet, nil
}
