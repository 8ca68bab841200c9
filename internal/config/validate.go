package config

import "errors"

// Validate checks configuration values after normalization.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateElection(); err != nil {
		return err
	}
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must not be empty")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must not be empty")
	}
	return nil
}

func (c *Config) validateElection() error {
	if c.Election.ElectionID == "" {
		return errors.New("election.election_id must not be empty")
	}
	if c.Election.BallotHash == "" {
		return errors.New("election.ballot_hash must not be empty")
	}
	return nil
}

func (c *Config) validateScanner() error {
	if c.Scanner.Device == "" {
		return errors.New("scanner.device must not be empty")
	}
	if c.Scanner.ScanTimeoutMillis < c.Scanner.PollIntervalMillis {
		return errors.New("scanner.scan_timeout_ms must be at least scanner.poll_interval_ms")
	}
	return nil
}

func (c *Config) validateExport() error {
	if c.Export.DriveDir == "" {
		return errors.New("export.drive_dir must not be empty")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return errors.New("logging.format must be console or json")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be debug, info, warn, or error")
	}
	return nil
}
