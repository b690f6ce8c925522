package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader reads, env-expands, and validates a YAML config file.
type Loader struct {
	koanf *koanf.Koanf
	path  string
}

func NewLoader(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return &Loader{koanf: koanf.New("."), path: path}, nil
}

func (l *Loader) Load() (*Config, error) {
	if err := l.koanf.Load(file.Provider(l.path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.path, err)
	}

	if err := l.expandEnvVars(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars rebuilds the koanf tree with ${VAR} references resolved.
func (l *Loader) expandEnvVars() error {
	expanded, ok := ExpandEnvVarsInData(l.koanf.Raw()).(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected type after env var expansion")
	}

	fresh := koanf.New(".")
	if err := fresh.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return fmt.Errorf("failed to load expanded config: %w", err)
	}
	l.koanf = fresh
	return nil
}

// LoadConfig is the one-shot convenience entry point.
func LoadConfig(path string) (*Config, error) {
	loader, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return loader.Load()
}

// Default returns a fully defaulted config for programmatic use.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
