package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8081", ClientID: "test-client"})
		require.NoError(t, err)
		assert.Equal(t, "test-client", client.config.ClientID)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.False(t, client.IsAuthenticated())
	})

	t.Run("missing_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ClientID: "test-client"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ServerURL is required")
	})

	t.Run("missing_client_id", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8081"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ClientID is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "://invalid-url", ClientID: "test-client"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "invalid ServerURL")
	})
}

func newFakeServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{ServerURL: server.URL, ClientID: "test-client"})
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Authenticate(t *testing.T) {
	client := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-client", req["clientId"])

		writeJSON(w, http.StatusOK, AuthResponse{Token: "test-token", ClientID: "test-client"})
	})

	resp, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-token", resp.Token)
	assert.True(t, client.IsAuthenticated())
	assert.Equal(t, "test-token", client.GetToken())
}

func TestClient_RequiresAuthentication(t *testing.T) {
	client := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	})
	ctx := context.Background()

	_, err := client.DeliverFrame(ctx, DeliverRequest{Frame: "x"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.ReadLog(ctx, 0, 0, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.AdminRoutes(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.AdminGetRunState(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.AdminSetRunState(ctx, "threaded")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClient_DeliverFrame(t *testing.T) {
	client := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req DeliverRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Addr.Transport() == "nowhere" {
			writeJSON(w, http.StatusNotFound, DeliverResponse{Result: "no_route"})
			return
		}
		if req.Addr == nil && req.Frame == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: "frame or addr is required", Code: 400})
			return
		}
		writeJSON(w, http.StatusAccepted, DeliverResponse{Result: "routed", Bytes: 12})
	})
	client.SetToken("tok")
	ctx := context.Background()

	resp, err := client.DeliverFrame(ctx, DeliverRequest{Addr: address.MustNew("tcp", "h", "bob"), Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "routed", resp.Result)

	resp, err = client.DeliverFrame(ctx, DeliverRequest{Addr: address.MustNew("nowhere", "x")})
	require.NoError(t, err, "routing outcomes are not errors")
	assert.Equal(t, "no_route", resp.Result)

	_, err = client.DeliverFrame(ctx, DeliverRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "frame or addr is required", apiErr.Response.Message)
}

func TestClient_ReadLog(t *testing.T) {
	client := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/log", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "base64", r.URL.Query().Get("encoding"))
		writeJSON(w, http.StatusOK, LogResponse{
			Entries:     []LogEntry{{Offset: 5, Message: "aGk="}},
			StartOffset: 5,
			Count:       1,
			Total:       6,
			Encoding:    "base64",
		})
	})
	client.SetToken("tok")

	resp, err := client.ReadLog(context.Background(), 5, 2, EncodingBase64)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "aGk=", resp.Entries[0].Message)
}

func TestClient_GetHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	client := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if !healthy.Load() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, HealthResponse{Healthy: healthy.Load(), NodeID: "n1"})
	})

	resp, err := client.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Healthy)

	healthy.Store(false)
	resp, err = client.GetHealth(context.Background())
	require.NoError(t, err, "an unhealthy report is still a report")
	assert.False(t, resp.Healthy)
}

func TestClient_Admin(t *testing.T) {
	var mu sync.Mutex
	state := "stopped"
	client := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.URL.Path == "/api/v1/admin/routes":
			writeJSON(w, http.StatusOK, RoutesResponse{RunState: state})
		case r.URL.Path == "/api/v1/admin/runstate" && r.Method == http.MethodPut:
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			state = req["state"]
			writeJSON(w, http.StatusOK, RunStateResponse{State: state})
		case r.URL.Path == "/api/v1/admin/runstate":
			writeJSON(w, http.StatusOK, RunStateResponse{State: state})
		default:
			http.NotFound(w, r)
		}
	})
	client.SetToken("tok")
	ctx := context.Background()

	routes, err := client.AdminRoutes(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", routes.RunState)

	set, err := client.AdminSetRunState(ctx, "threaded")
	require.NoError(t, err)
	assert.Equal(t, "threaded", set.State)

	got, err := client.AdminGetRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "threaded", got.State)
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 403, Response: ErrorResponse{Error: "Forbidden", Message: "Admin privileges required"}}
	assert.Equal(t, "API error (403): Forbidden - Admin privileges required", err.Error())

	err = &APIError{StatusCode: 502, Body: []byte("bad gateway")}
	assert.Equal(t, "API error (502): bad gateway", err.Error())
}
