package store

import (
	"context"
	"fmt"
	"os"
)

// DatabaseHealth captures diagnostic information about the ballot database.
type DatabaseHealth struct {
	DBPath         string
	DatabaseExists bool
	SchemaVersion  int
	IntegrityCheck bool
	TotalSheets    int64
	TotalBatches   int64
	PendingExports int64
	Error          string
}

// Health runs a diagnostic pass over the database.
func (s *Store) Health(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{DBPath: s.path}

	if _, err := os.Stat(s.path); err == nil {
		health.DatabaseExists = true
	}

	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = fmt.Sprintf("read schema version: %v", err)
		return health
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = fmt.Sprintf("integrity check: %v", err)
		return health
	}
	health.IntegrityCheck = integrity == "ok"

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM sheets").Scan(&health.TotalSheets); err != nil {
		health.Error = fmt.Sprintf("count sheets: %v", err)
		return health
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM batches").Scan(&health.TotalBatches); err != nil {
		health.Error = fmt.Sprintf("count batches: %v", err)
		return health
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM sheets WHERE export_pending = 1").Scan(&health.PendingExports); err != nil {
		health.Error = fmt.Sprintf("count pending exports: %v", err)
		return health
	}
	return health
}
