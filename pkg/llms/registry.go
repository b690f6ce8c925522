package llms

import (
	"fmt"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/registry"
)

// Registry holds named provider clients so several contributors can share
// one endpoint.
type Registry struct {
	*registry.BaseRegistry[Client]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Client]()}
}

// RegisterClient builds a client from cfg and stores it under name.
func (r *Registry) RegisterClient(name string, cfg *config.ProviderConfig) (Client, error) {
	client, err := NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := r.Register(name, client); err != nil {
		return nil, err
	}
	return client, nil
}

// Close releases every registered client.
func (r *Registry) Close() error {
	var firstErr error
	for _, name := range r.Names() {
		client, ok := r.Get(name)
		if !ok {
			continue
		}
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewFromConfig builds the adapter selected by cfg.Kind.
func NewFromConfig(cfg *config.ProviderConfig) (Client, error) {
	switch cfg.Kind {
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	case config.ProviderGemini:
		return NewGeminiClient(cfg), nil
	case config.ProviderTGI:
		return NewTGIClient(cfg), nil
	case config.ProviderLlamaCpp:
		return NewLlamaCppClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
