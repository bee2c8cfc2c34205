package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/node"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Content encodings accepted on frames and offered on log reads
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// DeliverRequest carries either a raw wire frame or its parts.
// Frame wins when both are set.
type DeliverRequest struct {
	// Frame is the full wire form, e.g. "r[\"tcp\",[\"h\",9000],\"bob\"]\u0000hi"
	Frame string `json:"frame,omitempty"`

	// Type is "r" or "s"; defaults to "r"
	Type    string          `json:"type,omitempty"`
	Addr    address.Address `json:"addr,omitempty"`
	Content string          `json:"content,omitempty"`

	// Encoding applies to Frame and Content: "text" (default) or "base64"
	Encoding string `json:"encoding,omitempty"`
}

// DeliverResponse reports the router's outcome for one frame
type DeliverResponse struct {
	Result string `json:"result"`
	Bytes  int    `json:"bytes"`
}

// LogEntry is one message log entry
type LogEntry struct {
	Offset    int64     `json:"offset"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogResponse represents a page of the message log
type LogResponse struct {
	Entries     []LogEntry `json:"entries"`
	StartOffset int64      `json:"startOffset"`
	Count       int        `json:"count"`
	Total       int64      `json:"total"`
	Enabled     bool       `json:"enabled"`
	Encoding    string     `json:"encoding"`
}

// RunStateRequest asks the router to change state
type RunStateRequest struct {
	State string `json:"state"`
}

// RunStateResponse reports the router state after a change
type RunStateResponse struct {
	State string `json:"state"`
}

// RoutesResponse is the admin view of the routing tables
type RoutesResponse = node.Routes

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy     bool   `json:"healthy"`
	NodeID      string `json:"nodeId"`
	RunState    string `json:"runState"`
	Jacks       int    `json:"jacks"`
	Clients     int    `json:"clients"`
	Connections int    `json:"connections"`
	LogEnabled  bool   `json:"logEnabled"`
	LogEntries  int64  `json:"logEntries"`
	Uptime      string `json:"uptime"`
	Message     string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
