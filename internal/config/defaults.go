package config

// Default timing and capacity values for the scanner subsystem.
const (
	DefaultPollIntervalMillis   = 500
	DefaultScanTimeoutMillis    = 5000
	DefaultMaxScanAttempts      = 3
	DefaultReconnectDelayMillis = 500
	DefaultReconnectAttempts    = 5
	DefaultCalibrationTimeout   = 15000
)

// DefaultMinFreeSpaceMiB is the minimum free space required on the export
// drive before a cast vote record write is attempted.
const DefaultMinFreeSpaceMiB = 64

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/tally",
			LogDir:  "~/.local/share/tally/logs",
		},
		Election: Election{
			TestMode: true,
		},
		Scanner: Scanner{
			Device:               "sim",
			PollIntervalMillis:   DefaultPollIntervalMillis,
			ScanTimeoutMillis:    DefaultScanTimeoutMillis,
			MaxScanAttempts:      DefaultMaxScanAttempts,
			ReconnectDelayMillis: DefaultReconnectDelayMillis,
			ReconnectAttempts:    DefaultReconnectAttempts,
			CalibrationTimeout:   DefaultCalibrationTimeout,
		},
		Export: Export{
			DriveDir:        "/media/tally-export",
			MinFreeSpaceMiB: DefaultMinFreeSpaceMiB,
		},
		Logging: Logging{
			Format:        "console",
			Level:         "info",
			RetentionDays: 30,
		},
	}
}
