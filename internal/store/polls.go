package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// CurrentPollsState reads the persisted polls state. A fresh database is in
// the initial closed state.
func (s *Store) CurrentPollsState(ctx context.Context) (PollsState, error) {
	value, err := s.GetSetting(ctx, settingPollsState)
	if err != nil {
		return "", err
	}
	if value == "" {
		return PollsClosedInitial, nil
	}
	state, ok := ParsePollsState(value)
	if !ok {
		return "", fmt.Errorf("stored polls state %q is not recognized", value)
	}
	return state, nil
}

// RecordPollsTransition persists a polls-state change and its audit row in
// one transaction.
func (s *Store) RecordPollsTransition(ctx context.Context, from, to PollsState, reason string, ballotsCounted int64) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin polls tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO polls_transitions (from_state, to_state, reason, ballots_counted, created_at)
             VALUES (?, ?, ?, ?, ?)`,
			string(from), string(to), reason, ballotsCounted, now,
		); err != nil {
			return fmt.Errorf("insert polls transition: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
             ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			settingPollsState, string(to),
		); err != nil {
			return fmt.Errorf("update polls state: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit polls tx: %w", err)
		}
		return nil
	})
}

// PollsTransitions returns the audit log, oldest first.
func (s *Store) PollsTransitions(ctx context.Context) ([]*PollsTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_state, to_state, reason, ballots_counted, created_at
         FROM polls_transitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list polls transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*PollsTransition
	for rows.Next() {
		var (
			t          PollsTransition
			from       string
			to         string
			createdRaw string
		)
		if err := rows.Scan(&t.ID, &from, &to, &t.Reason, &t.BallotsCounted, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan polls transition: %w", err)
		}
		t.From = PollsState(from)
		t.To = PollsState(to)
		if created, err := parseTimeString(createdRaw); err == nil {
			t.CreatedAt = created
		}
		transitions = append(transitions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polls transitions: %w", err)
	}
	return transitions, nil
}

// GetSetting returns a settings value, empty when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// RecordBallotsAtBagReplacement stores the ballot count at the most recent
// ballot-bag replacement.
func (s *Store) RecordBallotsAtBagReplacement(ctx context.Context, count int64) error {
	return s.SetSetting(ctx, settingBallotsAtBagReplace, strconv.FormatInt(count, 10))
}

// BallotsAtBagReplacement reads the count recorded at the last bag
// replacement, zero when none occurred.
func (s *Store) BallotsAtBagReplacement(ctx context.Context) (int64, error) {
	value, err := s.GetSetting(ctx, settingBallotsAtBagReplace)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ballots at bag replacement: %w", err)
	}
	return count, nil
}

// ExportSessionID returns the stable identifier naming this session's cast
// vote record file, creating it on first use.
func (s *Store) ExportSessionID(ctx context.Context, generate func() string) (string, error) {
	value, err := s.GetSetting(ctx, settingExportSessionID)
	if err != nil {
		return "", err
	}
	if value != "" {
		return value, nil
	}
	value = generate()
	if err := s.SetSetting(ctx, settingExportSessionID, value); err != nil {
		return "", err
	}
	return value, nil
}

// MarkExportComplete records that the polls-closing export finished.
func (s *Store) MarkExportComplete(ctx context.Context) error {
	return s.SetSetting(ctx, settingExportMarkedComplete, "true")
}

// ExportMarkedComplete reports whether the polls-closing export finished.
func (s *Store) ExportMarkedComplete(ctx context.Context) (bool, error) {
	value, err := s.GetSetting(ctx, settingExportMarkedComplete)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}
