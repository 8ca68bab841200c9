package config

import "strings"

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeElection()
	c.normalizeScanner()
	if err := c.normalizeExport(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	defaults := Default()

	c.Paths.DataDir = strings.TrimSpace(c.Paths.DataDir)
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = defaults.Paths.DataDir
	}
	expanded, err := expandPath(c.Paths.DataDir)
	if err != nil {
		return err
	}
	c.Paths.DataDir = expanded

	c.Paths.LogDir = strings.TrimSpace(c.Paths.LogDir)
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = defaults.Paths.LogDir
	}
	expanded, err = expandPath(c.Paths.LogDir)
	if err != nil {
		return err
	}
	c.Paths.LogDir = expanded

	return nil
}

func (c *Config) normalizeElection() {
	c.Election.ElectionID = strings.TrimSpace(c.Election.ElectionID)
	c.Election.BallotHash = strings.TrimSpace(c.Election.BallotHash)
	c.Election.PrecinctID = strings.TrimSpace(c.Election.PrecinctID)
}

func (c *Config) normalizeScanner() {
	defaults := Default()

	c.Scanner.Device = strings.TrimSpace(c.Scanner.Device)
	if c.Scanner.Device == "" {
		c.Scanner.Device = defaults.Scanner.Device
	}
	ensurePositive(&c.Scanner.PollIntervalMillis, defaults.Scanner.PollIntervalMillis)
	ensurePositive(&c.Scanner.ScanTimeoutMillis, defaults.Scanner.ScanTimeoutMillis)
	ensurePositive(&c.Scanner.MaxScanAttempts, defaults.Scanner.MaxScanAttempts)
	ensurePositive(&c.Scanner.ReconnectDelayMillis, defaults.Scanner.ReconnectDelayMillis)
	ensurePositive(&c.Scanner.ReconnectAttempts, defaults.Scanner.ReconnectAttempts)
	ensurePositive(&c.Scanner.CalibrationTimeout, defaults.Scanner.CalibrationTimeout)
}

func (c *Config) normalizeExport() error {
	defaults := Default()

	c.Export.DriveDir = strings.TrimSpace(c.Export.DriveDir)
	if c.Export.DriveDir == "" {
		c.Export.DriveDir = defaults.Export.DriveDir
	}
	expanded, err := expandPath(c.Export.DriveDir)
	if err != nil {
		return err
	}
	c.Export.DriveDir = expanded

	ensurePositive(&c.Export.MinFreeSpaceMiB, defaults.Export.MinFreeSpaceMiB)
	return nil
}

func (c *Config) normalizeLogging() {
	defaults := Default()

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	ensurePositive(&c.Logging.RetentionDays, defaults.Logging.RetentionDays)
}

func ensurePositive(value *int, fallback int) {
	if *value <= 0 {
		*value = fallback
	}
}
