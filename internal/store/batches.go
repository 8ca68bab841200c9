package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const batchColumns = "id, number, open_reason, close_reason, started_at, ended_at"

// ErrBatchOngoing indicates an open was attempted while a batch is ongoing.
var ErrBatchOngoing = errors.New("a batch is already ongoing")

// ErrNoOngoingBatch indicates a close or attach was attempted with no batch open.
var ErrNoOngoingBatch = errors.New("no ongoing batch")

// OpenBatch starts a new batch. At most one batch may be ongoing.
func (s *Store) OpenBatch(ctx context.Context, reason string) (*Batch, error) {
	ongoing, err := s.OngoingBatch(ctx)
	if err != nil {
		return nil, err
	}
	if ongoing != nil {
		return nil, fmt.Errorf("open batch: %w (batch %d)", ErrBatchOngoing, ongoing.Number)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO batches (id, number, open_reason, started_at)
         VALUES (?, (SELECT COALESCE(MAX(number), 0) + 1 FROM batches), ?, ?)`,
		id,
		reason,
		now.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return s.GetBatch(ctx, id)
}

// CloseOngoingBatch ends the current batch. Calling it with no batch open is
// a caller bug.
func (s *Store) CloseOngoingBatch(ctx context.Context, reason string) (*Batch, error) {
	ongoing, err := s.OngoingBatch(ctx)
	if err != nil {
		return nil, err
	}
	if ongoing == nil {
		return nil, fmt.Errorf("close batch: %w", ErrNoOngoingBatch)
	}

	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE batches SET close_reason = ?, ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		reason,
		now.Format(time.RFC3339Nano),
		ongoing.ID,
	); err != nil {
		return nil, fmt.Errorf("close batch: %w", err)
	}
	return s.GetBatch(ctx, ongoing.ID)
}

// OngoingBatch returns the open batch, or nil when none is open.
func (s *Store) OngoingBatch(ctx context.Context) (*Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE ended_at IS NULL ORDER BY number DESC LIMIT 1`)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ongoing batch: %w", err)
	}
	return batch, nil
}

// GetBatch fetches a batch by identifier. Returns nil when absent.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns all batches with sheet tallies, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]*BatchSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.number, b.open_reason, b.close_reason, b.started_at, b.ended_at,
                COUNT(s.id), COALESCE(SUM(s.counted), 0)
         FROM batches b
         LEFT JOIN sheets s ON s.batch_id = b.id
         GROUP BY b.id
         ORDER BY b.number DESC`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var summaries []*BatchSummary
	for rows.Next() {
		var (
			summary     BatchSummary
			closeReason sql.NullString
			startedRaw  string
			endedRaw    sql.NullString
		)
		if err := rows.Scan(
			&summary.ID,
			&summary.Number,
			&summary.OpenReason,
			&closeReason,
			&startedRaw,
			&endedRaw,
			&summary.SheetCount,
			&summary.CountedCount,
		); err != nil {
			return nil, fmt.Errorf("scan batch summary: %w", err)
		}
		summary.CloseReason = closeReason.String
		if started, err := parseTimeString(startedRaw); err == nil {
			summary.StartedAt = started
		}
		if endedRaw.Valid {
			if ended, err := parseTimeString(endedRaw.String); err == nil {
				summary.EndedAt = &ended
			}
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return summaries, nil
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		batch       Batch
		closeReason sql.NullString
		startedRaw  string
		endedRaw    sql.NullString
	)
	if err := scanner.Scan(
		&batch.ID,
		&batch.Number,
		&batch.OpenReason,
		&closeReason,
		&startedRaw,
		&endedRaw,
	); err != nil {
		return nil, err
	}
	batch.CloseReason = closeReason.String
	if started, err := parseTimeString(startedRaw); err == nil {
		batch.StartedAt = started
	}
	if endedRaw.Valid {
		if ended, err := parseTimeString(endedRaw.String); err == nil {
			batch.EndedAt = &ended
		}
	}
	return &batch, nil
}
