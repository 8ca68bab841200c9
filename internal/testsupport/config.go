package testsupport

import (
	"path/filepath"
	"testing"

	"tally/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Timings are shrunk so machine tests run in milliseconds.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Election.ElectionID = "test-election"
	cfg.Election.BallotHash = "test-hash"
	cfg.Election.TestMode = true
	cfg.Scanner.PollIntervalMillis = 5
	cfg.Scanner.ScanTimeoutMillis = 500
	cfg.Scanner.ReconnectDelayMillis = 5
	cfg.Scanner.CalibrationTimeout = 500
	cfg.Export.DriveDir = filepath.Join(base, "export-drive")
	cfg.Export.MinFreeSpaceMiB = 0

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithExportDrive overrides the export drive mount point.
func WithExportDrive(dir string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Export.DriveDir = dir
	}
}

// WithPrecinct restricts the test config to one precinct.
func WithPrecinct(id string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Election.PrecinctID = id
	}
}
