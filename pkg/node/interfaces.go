package node

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/messagelog"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// Node represents a single running router instance
type Node interface {
	io.Closer

	// Start runs the router Threaded and connects to discovered peers
	Start(ctx context.Context) error

	// Stop moves the router to Stopped without releasing resources
	Stop(ctx context.Context) error

	// ID returns the configured node identifier
	ID() string

	// Deliver hands a raw frame to the router
	Deliver(ctx context.Context, raw []byte) router.Result

	// SetRunState moves the router to state
	SetRunState(ctx context.Context, state router.RunState) error

	// Log returns the router's message log
	Log() messagelog.Log

	// Routes returns the current jack and client tables
	Routes() Routes

	// Gatherer exposes the node's metrics registry
	Gatherer() prometheus.Gatherer

	// GetHealth returns the overall health status of this node
	GetHealth(ctx context.Context) HealthStatus
}

// HealthStatus represents the overall health of a node
type HealthStatus struct {
	// Healthy is false once the node is closed or has no usable jack
	Healthy bool `json:"healthy"`

	NodeID   string `json:"nodeId"`
	RunState string `json:"runState"`

	Jacks       int `json:"jacks"`
	Clients     int `json:"clients"`
	Connections int `json:"connections"`

	LogEnabled bool  `json:"logEnabled"`
	LogEntries int64 `json:"logEntries"`

	Uptime time.Duration `json:"uptime"`

	// Message provides additional health information
	Message string `json:"message"`
}

// Routes is a snapshot of the routing tables
type Routes struct {
	RunState string         `json:"runState"`
	Jacks    []JackStatus   `json:"jacks"`
	Clients  []ClientStatus `json:"clients"`
}

// JackStatus describes one registered jack
type JackStatus struct {
	Interface   string             `json:"interface"`
	Kind        string             `json:"kind"`
	Connections []ConnectionStatus `json:"connections"`
}

// ConnectionStatus describes one open connection on a stream jack
type ConnectionStatus struct {
	Label        string    `json:"label"`
	ID           string    `json:"id"`
	State        string    `json:"state"`
	BytesIn      uint64    `json:"bytesIn"`
	BytesOut     uint64    `json:"bytesOut"`
	FramesIn     uint64    `json:"framesIn"`
	FramesOut    uint64    `json:"framesOut"`
	LastActivity time.Time `json:"lastActivity"`
}

// ClientStatus describes one registered client
type ClientStatus struct {
	Interface string `json:"interface"`
	Name      string `json:"name,omitempty"`
	Pending   int    `json:"pending"`
}
