// Package httpclient is a typed client for the ejtpd HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// APIError is returned for any response with a status code of 400 or above
type APIError struct {
	StatusCode int
	Response   ErrorResponse
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("API error (%d): %s - %s", e.StatusCode, e.Response.Error, e.Response.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, string(e.Body))
}

// Client provides HTTP client for the ejtpd API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new ejtpd HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in with the configured client id and stores the token
func (c *Client) Authenticate(ctx context.Context) (*AuthResponse, error) {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", nil, authReq, &authResp, false); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return &authResp, nil
}

// GetHealth returns the health status of the node. An unhealthy node answers
// 503 with a health body, which is returned without error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp, false)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		if jerr := json.Unmarshal(apiErr.Body, &resp); jerr == nil && resp.NodeID != "" {
			return &resp, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// DeliverFrame hands a frame to the router. Routing outcomes other than
// routed or receipt are reported in the response, not as errors.
func (c *Client) DeliverFrame(ctx context.Context, req DeliverRequest) (*DeliverResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp DeliverResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/frames", nil, req, &resp, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		var outcome DeliverResponse
		if jerr := json.Unmarshal(apiErr.Body, &outcome); jerr == nil && outcome.Result != "" {
			return &outcome, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deliver frame: %w", err)
	}
	return &resp, nil
}

// ReadLog reads up to limit message log entries starting at offset.
// A zero limit uses the server default; encoding may be empty, "text" or "base64".
func (c *Client) ReadLog(ctx context.Context, offset int64, limit int, encoding string) (*LogResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	query := url.Values{}
	if offset > 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if encoding != "" {
		query.Set("encoding", encoding)
	}

	var resp LogResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/log", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return &resp, nil
}

// AdminRoutes returns the router's jack and client tables (admin only)
func (c *Client) AdminRoutes(ctx context.Context) (*RoutesResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp RoutesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/routes", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get routes: %w", err)
	}
	return &resp, nil
}

// AdminGetRunState returns the router run state (admin only)
func (c *Client) AdminGetRunState(ctx context.Context) (*RunStateResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp RunStateResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/runstate", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}
	return &resp, nil
}

// AdminSetRunState moves the router to state, "threaded" or "stopped" (admin only)
func (c *Client) AdminSetRunState(ctx context.Context, state string) (*RunStateResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp RunStateResponse
	req := map[string]string{"state": state}
	if err := c.doRequest(ctx, http.MethodPut, "/api/v1/admin/runstate", nil, req, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to set run state: %w", err)
	}
	return &resp, nil
}

// doRequest performs an HTTP request with optional query parameters and authentication
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyBytes}
		_ = json.Unmarshal(bodyBytes, &apiErr.Response)
		return apiErr
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
