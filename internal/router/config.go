package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/messagelog"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// Config holds configuration for a Router
type Config struct {
	// Logger receives dispatch diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Log records every raw message. Defaults to an in-memory log.
	Log messagelog.Log

	// DisableLog starts the router with message recording switched off
	DisableLog bool

	// Registerer receives the router metrics. Defaults to a private registry.
	Registerer prometheus.Registerer

	// StopTimeout bounds how long UnregisterJack waits for the jack's Run
	// to return. Defaults to 5s.
	StopTimeout time.Duration

	// Jacks and Clients are registered by NewRouter in order
	Jacks   []router.Jack
	Clients []router.Client
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.NewRegistry()
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
}
