package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ejtp-go/internal/config"
	inode "github.com/rmacdonaldsmith/ejtp-go/internal/node"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Node   *inode.Node
	Server *Server
	Auth   *JWTAuth
}

// NewTestServerSetup builds a stopped node with one tcp jack on an ephemeral
// port and a mailbox client named "bob", and an API server in front of it.
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()

	settings := config.Default()
	settings.NodeID = "test-node"
	settings.Jacks = []config.JackConfig{{Kind: "tcp", Host: "127.0.0.1", Port: 0, Listen: true}}
	settings.Clients = []config.ClientConfig{{Name: "bob", Jack: "tcp", Capacity: 4}}

	n, err := inode.New(&inode.Config{Settings: settings})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	server := NewServer(n, Config{Port: 0, SecretKey: "test-secret-key"})
	return &TestServerSetup{
		Node:   n,
		Server: server,
		Auth:   server.jwtAuth,
	}
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(clientID, isAdmin)
	require.NoError(t, err)
	return token
}

// Bob returns the address of the "bob" mailbox
func (setup *TestServerSetup) Bob(t *testing.T) address.Address {
	t.Helper()
	mb, ok := setup.Node.Client("bob")
	require.True(t, ok)
	return mb.Interface()
}

// Do sends a request through the full handler chain
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

