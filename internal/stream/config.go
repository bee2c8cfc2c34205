package stream

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// DefaultMaxFrameSize bounds a single reassembled payload
const DefaultMaxFrameSize = 16 << 20

var (
	// ErrNilAddressing is returned when a jack has no Addressing
	ErrNilAddressing = errors.New("jack addressing cannot be nil")
	// ErrNilDeliverer is returned when a jack has nowhere to deliver inbound payloads
	ErrNilDeliverer = errors.New("jack deliverer cannot be nil")
)

// ConnectionConfig holds configuration for a Connection
type ConnectionConfig struct {
	// Label identifies the remote peer in logs
	Label string

	// MaxFrameSize is the largest payload Inject accepts
	MaxFrameSize int

	Logger *zap.Logger
}

// Validate checks if the configuration is valid
func (c *ConnectionConfig) Validate() error {
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("max frame size cannot be negative: %d", c.MaxFrameSize)
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *ConnectionConfig) SetDefaults() {
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// JackConfig holds configuration for a generic stream Jack
type JackConfig struct {
	// Interface is the address this jack is registered under
	Interface address.Address

	// Addressing supplies labels and outbound transports
	Addressing Addressing

	// Listen opens the inbound listener. Nil disables inbound connections.
	Listen func(ctx context.Context) (Listener, error)

	// Deliverer receives every payload reassembled on any connection
	Deliverer router.Deliverer

	// Connection is the template applied to every connection
	Connection ConnectionConfig

	Logger *zap.Logger
}

// Validate checks if the configuration is valid
func (c *JackConfig) Validate() error {
	if err := c.Interface.Validate(); err != nil {
		return fmt.Errorf("invalid jack interface: %w", err)
	}
	if c.Addressing == nil {
		return ErrNilAddressing
	}
	if c.Deliverer == nil {
		return ErrNilDeliverer
	}
	return c.Connection.Validate()
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *JackConfig) SetDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Connection.Logger == nil {
		c.Connection.Logger = c.Logger
	}
	c.Connection.SetDefaults()
}
