package node

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/internal/config"
	"github.com/rmacdonaldsmith/ejtp-go/internal/discovery"
)

var (
	// ErrNilSettings is returned when Config carries no application settings
	ErrNilSettings = errors.New("node settings cannot be nil")
	// ErrNodeClosed is returned by lifecycle calls on a closed node
	ErrNodeClosed = errors.New("node is closed")
)

// Config represents configuration for a Node
type Config struct {
	// Settings is the loaded application configuration
	Settings *config.Config

	// Logger defaults to a no-op logger
	Logger *zap.Logger

	// Registry receives the node's metrics. A fresh registry with process and
	// Go runtime collectors is created when nil.
	Registry *prometheus.Registry

	// Discovery overrides the static peer list from Settings
	Discovery discovery.Discovery
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Settings == nil {
		return ErrNilSettings
	}
	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Registry == nil {
		c.Registry = newRegistry()
	}
	if c.Discovery == nil && c.Settings != nil {
		c.Discovery = discovery.NewStaticDiscovery(c.Settings.Peers)
	}
}
