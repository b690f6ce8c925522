package config

import "fmt"

// LoggerConfig controls process logging.
type LoggerConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level,omitempty"`

	// Format is "simple" or "verbose".
	Format string `yaml:"format,omitempty"`

	// File redirects logs to a file instead of stderr.
	File string `yaml:"file,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level %q", c.Level)
	}
	return nil
}
