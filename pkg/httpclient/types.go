package httpclient

import (
	"time"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/node"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the ejtpd HTTP API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier this client logs in as; "admin" is granted admin access
	ClientID string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Content encodings understood by the server
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// DeliverRequest carries either a raw wire frame or its parts
type DeliverRequest struct {
	Frame    string          `json:"frame,omitempty"`
	Type     string          `json:"type,omitempty"`
	Addr     address.Address `json:"addr,omitempty"`
	Content  string          `json:"content,omitempty"`
	Encoding string          `json:"encoding,omitempty"`
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

// RunStateResponse reports the router state
type RunStateResponse struct {
	State string `json:"state"`
}

// RoutesResponse is the admin view of the routing tables
type RoutesResponse = node.Routes

// HealthResponse represents the health status response
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

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
