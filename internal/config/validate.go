package config

import "errors"

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StateFile == "" {
		return errors.New("paths.state_file must be set")
	}
	return nil
}

func (c *Config) validateHistory() error {
	if c.History.Enabled && c.History.Path == "" {
		return errors.New("history.path must be set when history is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return errors.New("logging.format must be console or json")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be debug, info, warn, or error")
	}
	return nil
}
