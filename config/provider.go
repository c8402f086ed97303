// Package config loads the service configuration from the environment and
// optional .env files.
package config

import (
	"fmt"
	"sync"
)

// Provider holds the loaded configuration. Use GetProvider for the
// process-wide instance.
type Provider struct {
	mu     sync.RWMutex
	config *Config
}

var (
	instance *Provider
	once     sync.Once
)

// GetProvider returns the process-wide provider.
func GetProvider() *Provider {
	once.Do(func() {
		instance = NewProvider()
	})
	return instance
}

// NewProvider returns an unloaded provider. Most callers want GetProvider.
func NewProvider() *Provider {
	return &Provider{}
}

// Load reads the .env files and the environment, then validates the result.
// Only the first successful call does any work.
func (p *Provider) Load() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config != nil {
		return nil
	}
	return p.load()
}

// MustLoad is Load that panics on error.
func (p *Provider) MustLoad() {
	if err := p.Load(); err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
}

// Reload reads everything again and replaces the configuration when the new
// one is valid.
func (p *Provider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// load must be called with p.mu held.
func (p *Provider) load() error {
	src, err := readEnvFiles()
	if err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}

	cfg, err := parse(src)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	p.config = cfg
	return nil
}

// Get returns the configuration, or an error before the first Load.
func (p *Provider) Get() (*Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.config == nil {
		return nil, fmt.Errorf("configuration not loaded; call Load() first")
	}
	return p.config, nil
}

// MustGet is Get that panics on error.
func (p *Provider) MustGet() *Config {
	cfg, err := p.Get()
	if err != nil {
		panic(fmt.Sprintf("failed to get configuration: %v", err))
	}
	return cfg
}

// IsLoaded reports whether a configuration is available.
func (p *Provider) IsLoaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config != nil
}
