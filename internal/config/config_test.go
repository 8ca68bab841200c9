package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		// Defaults have an empty election section, which fails
		// validation. That is the expected shape for a missing file.
		if !strings.Contains(err.Error(), "election.election_id") {
			t.Fatalf("Load: unexpected error %v", err)
		}
		return
	}
	_ = cfg
	_ = resolved
	if exists {
		t.Fatal("expected missing config file")
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[election]
election_id = "general-2026"
ballot_hash = "abc123"
precinct_id = "precinct-21"
test_mode = false

[scanner]
device = "SIM"
poll_interval_ms = 250
scan_timeout_ms = 4000

[export]
drive_dir = "` + dir + `/drive"

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Election.ElectionID != "general-2026" {
		t.Fatalf("election_id = %q", cfg.Election.ElectionID)
	}
	if cfg.Election.TestMode {
		t.Fatal("test_mode should be false")
	}
	if !cfg.SimulatedDevice() {
		t.Fatal("device SIM should select the simulated backend")
	}
	if cfg.Scanner.PollIntervalMillis != 250 {
		t.Fatalf("poll_interval_ms = %d", cfg.Scanner.PollIntervalMillis)
	}
	if cfg.Scanner.MaxScanAttempts != DefaultMaxScanAttempts {
		t.Fatalf("max_scan_attempts = %d, want default %d", cfg.Scanner.MaxScanAttempts, DefaultMaxScanAttempts)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging format = %q", cfg.Logging.Format)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level = %q", cfg.Logging.Level)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("data_dir not absolute: %q", cfg.Paths.DataDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing election id",
			mutate: func(c *Config) { c.Election.ElectionID = "" },
			want:   "election.election_id",
		},
		{
			name:   "missing ballot hash",
			mutate: func(c *Config) { c.Election.BallotHash = "" },
			want:   "election.ballot_hash",
		},
		{
			name: "scan timeout below poll interval",
			mutate: func(c *Config) {
				c.Scanner.PollIntervalMillis = 1000
				c.Scanner.ScanTimeoutMillis = 500
			},
			want: "scanner.scan_timeout_ms",
		},
		{
			name:   "bad logging format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name:   "bad logging level",
			mutate: func(c *Config) { c.Logging.Level = "trace" },
			want:   "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Election.ElectionID = "general-2026"
			cfg.Election.BallotHash = "abc123"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[scanner]") {
		t.Fatal("sample config missing scanner section")
	}
}

func TestNormalizeBackfillsPositiveValues(t *testing.T) {
	cfg := Default()
	cfg.Election.ElectionID = "general-2026"
	cfg.Election.BallotHash = "abc123"
	cfg.Scanner.MaxScanAttempts = -1
	cfg.Export.MinFreeSpaceMiB = 0
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Scanner.MaxScanAttempts != DefaultMaxScanAttempts {
		t.Fatalf("max_scan_attempts = %d", cfg.Scanner.MaxScanAttempts)
	}
	if cfg.Export.MinFreeSpaceMiB != DefaultMinFreeSpaceMiB {
		t.Fatalf("min_free_space_mib = %d", cfg.Export.MinFreeSpaceMiB)
	}
}
