package config

import "fmt"

// ServerConfig controls the HTTP driver adapter.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8470
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// SnapshotStoreConfig selects the session snapshot persistence backend.
type SnapshotStoreConfig struct {
	// Driver is sqlite, postgres, or mysql. Empty disables persistence.
	Driver string `yaml:"driver,omitempty"`

	// DSN is the driver-specific connection string. For sqlite this is a
	// file path.
	DSN string `yaml:"dsn,omitempty"`
}

func (c *SnapshotStoreConfig) SetDefaults() {}

func (c *SnapshotStoreConfig) Validate() error {
	switch c.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid driver %q (valid: sqlite, postgres, mysql)", c.Driver)
	}
	if c.Driver != "" && c.DSN == "" {
		return fmt.Errorf("dsn is required when driver is set")
	}
	return nil
}
