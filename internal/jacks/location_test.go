package jacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

func TestLabel(t *testing.T) {
	label, err := Label("tcp", address.MustNew("tcp", []any{"LocalHost", 9000}, "alice"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", label)

	label, err = Label("quic", address.MustNew("quic", []any{"::1", 443}))
	require.NoError(t, err)
	assert.Equal(t, "[::1]:443", label)
}

func TestHostPort_Errors(t *testing.T) {
	cases := map[string]address.Address{
		"wrong_kind":   address.MustNew("udp", []any{"h", 1}),
		"scalar_loc":   address.MustNew("tcp", "h"),
		"short_loc":    address.MustNew("tcp", []any{"h"}),
		"empty_host":   address.MustNew("tcp", []any{"", 1}),
		"string_port":  address.MustNew("tcp", []any{"h", "80"}),
		"fraction":     address.MustNew("tcp", []any{"h", 80.5}),
		"out_of_range": address.MustNew("tcp", []any{"h", 70000}),
	}
	for name, addr := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := HostPort("tcp", addr)
			assert.Error(t, err)
		})
	}
}

func TestInterface(t *testing.T) {
	iface, err := Interface("tcp", "127.0.0.1", 7000)
	require.NoError(t, err)
	assert.Equal(t, `["tcp",["127.0.0.1",7000]]`, iface.Key())
}
