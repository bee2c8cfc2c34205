package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iclient "github.com/rmacdonaldsmith/ejtp-go/internal/client"
	"github.com/rmacdonaldsmith/ejtp-go/internal/config"
	"github.com/rmacdonaldsmith/ejtp-go/internal/httpapi"
	inode "github.com/rmacdonaldsmith/ejtp-go/internal/node"
)

type testEnv struct {
	URL string
	Bob *iclient.Mailbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	settings := config.Default()
	settings.Jacks = []config.JackConfig{{Kind: "tcp", Host: "127.0.0.1", Port: 0, Listen: true}}
	settings.Clients = []config.ClientConfig{{Name: "bob", Jack: "tcp"}}

	n, err := inode.New(&inode.Config{Settings: settings})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	server := httptest.NewServer(httpapi.NewServer(n, httpapi.Config{SecretKey: "cli-test"}).Handler())
	t.Cleanup(server.Close)

	bob, ok := n.Client("bob")
	require.True(t, ok)
	return &testEnv{URL: server.URL, Bob: bob}
}

// run executes ejtpctl with args against the environment's server
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("EJTP_TOKEN", "")
	t.Setenv("EJTP_CLIENT_ID", "")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", e.URL, "--timeout", "5s"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) bobKey() string {
	return e.Bob.Interface().Key()
}

func TestHealthCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "is healthy")
	assert.Contains(t, out, "Jacks: 1")
	assert.Contains(t, out, "Clients: 1")
}

func TestAuthCommand(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "auth")
	assert.ErrorContains(t, err, "client-id is required")

	out, err := env.run(t, "--client-id", "alice", "auth")
	require.NoError(t, err)
	assert.Contains(t, out, "Authentication successful")
	assert.Contains(t, out, "Admin: false")
	assert.Contains(t, out, "export EJTP_TOKEN=")
}

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t)

	t.Run("content", func(t *testing.T) {
		out, err := env.run(t, "--client-id", "alice", "send", "--to", env.bobKey(), "--content", "hello bob")
		require.NoError(t, err)
		assert.Contains(t, out, "Frame routed")

		f := receive(t, env.Bob)
		assert.Equal(t, []byte("hello bob"), f)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "payload.bin")
		payload := []byte{0x00, 0xff, 'x', 0x00}
		require.NoError(t, os.WriteFile(path, payload, 0o600))

		_, err := env.run(t, "--client-id", "alice", "send", "--to", env.bobKey(), "--file", path)
		require.NoError(t, err)
		assert.Equal(t, payload, receive(t, env.Bob))
	})

	t.Run("raw_base64_frame", func(t *testing.T) {
		raw := "r" + env.bobKey() + "\x00raw"
		_, err := env.run(t, "--client-id", "alice", "send", "--base64",
			"--frame", base64.StdEncoding.EncodeToString([]byte(raw)))
		require.NoError(t, err)
		assert.Equal(t, []byte("raw"), receive(t, env.Bob))
	})

	t.Run("malformed", func(t *testing.T) {
		out, err := env.run(t, "--client-id", "alice", "send", "--frame", "garbage")
		require.Error(t, err)
		assert.Contains(t, out, "malformed")
	})

	t.Run("no_route", func(t *testing.T) {
		out, err := env.run(t, "--client-id", "alice", "send", "--to", `["udp","nowhere","x"]`, "--content", "lost")
		require.Error(t, err)
		assert.Contains(t, out, "no_route")
	})

	t.Run("invalid_flags", func(t *testing.T) {
		_, err := env.run(t, "--client-id", "alice", "send", "--content", "x")
		assert.ErrorContains(t, err, "--to or --frame")

		_, err = env.run(t, "--client-id", "alice", "send", "--to", "not json", "--content", "x")
		assert.ErrorContains(t, err, "invalid --to")
	})

	t.Run("unauthenticated", func(t *testing.T) {
		_, err := env.run(t, "send", "--to", env.bobKey(), "--content", "x")
		assert.ErrorContains(t, err, "not authenticated")
	})
}

func TestLogCommand(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "--client-id", "alice", "send", "--to", env.bobKey(), "--content", "logged")
	require.NoError(t, err)

	out, err := env.run(t, "--client-id", "alice", "log")
	require.NoError(t, err)
	assert.Contains(t, out, "Showing 1 of 1 entries from offset 0")
	assert.Contains(t, out, "logged")

	out, err = env.run(t, "--client-id", "alice", "log", "--offset", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "No entries from offset 5")

	_, err = env.run(t, "--client-id", "alice", "log", "--offset=-1")
	assert.Error(t, err)
}

func TestRoutesCommand(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "--client-id", "alice", "routes")
	assert.Error(t, err, "non-admin clients are refused")

	out, err := env.run(t, "--client-id", "admin", "routes")
	require.NoError(t, err)
	assert.Contains(t, out, "Jacks (1):")
	assert.Contains(t, out, "Clients (1):")
	assert.Contains(t, out, "bob")
}

func TestRunStateCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "--client-id", "admin", "runstate")
	require.NoError(t, err)
	assert.Contains(t, out, "Run State: stopped")

	out, err = env.run(t, "--client-id", "admin", "runstate", "set", "threaded")
	require.NoError(t, err)
	assert.Contains(t, out, "Run State: threaded")

	out, err = env.run(t, "--client-id", "admin", "runstate", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "Run State: threaded")

	_, err = env.run(t, "--client-id", "admin", "runstate", "set", "sideways")
	assert.Error(t, err)

	_, err = env.run(t, "--client-id", "admin", "runstate", "set", "stopped")
	require.NoError(t, err)
}

func TestTokenFlag(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "--client-id", "admin", "auth")
	require.NoError(t, err)
	var token string
	for _, line := range bytes.Split([]byte(out), []byte("\n")) {
		if v, ok := bytes.CutPrefix(line, []byte("Token: ")); ok {
			token = string(v)
		}
	}
	require.NotEmpty(t, token)

	out, err = env.run(t, "--token", token, "runstate")
	require.NoError(t, err)
	assert.Contains(t, out, "Run State:")

	_, err = env.run(t, "--token", "bogus", "runstate")
	assert.Error(t, err)
}

func receive(t *testing.T, mb *iclient.Mailbox) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := mb.Receive(ctx)
	require.NoError(t, err)
	return f.Content()
}
