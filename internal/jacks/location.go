// Package jacks holds helpers shared by the network jack implementations.
//
// Network jacks use addresses of the form
//
//	[kind, [host, port], ...]
//
// and key their connections by net.JoinHostPort of the lowercased host and
// the port.
package jacks

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

var (
	// ErrWrongTransport is returned for an address of another transport kind
	ErrWrongTransport = errors.New("address is for a different transport")
	// ErrBadLocation is returned when the location field is not [host, port]
	ErrBadLocation = errors.New("location must be [host, port]")
)

// HostPort extracts the host and port of an address of the given kind
func HostPort(kind string, addr address.Address) (string, int, error) {
	if addr.Transport() != kind {
		return "", 0, fmt.Errorf("%w: want %q, got %q", ErrWrongTransport, kind, addr.Transport())
	}
	if addr.Len() < address.JackPrefixLen {
		return "", 0, ErrBadLocation
	}

	loc, ok := addr[1].(address.Address)
	if !ok || loc.Len() != 2 {
		return "", 0, fmt.Errorf("%w: %v", ErrBadLocation, addr[1])
	}
	host, ok := loc[0].(string)
	if !ok || host == "" {
		return "", 0, fmt.Errorf("%w: host must be a non-empty string", ErrBadLocation)
	}
	port, ok := loc[1].(float64)
	if !ok || port != math.Trunc(port) || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: port must be an integer in 0-65535", ErrBadLocation)
	}
	return host, int(port), nil
}

// Label returns the connection key for addr
func Label(kind string, addr address.Address) (string, error) {
	host, port, err := HostPort(kind, addr)
	if err != nil {
		return "", err
	}
	return JoinHostPort(host, port), nil
}

// JoinHostPort joins a lowercased host with port
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(strings.ToLower(host), strconv.Itoa(port))
}

// Interface builds the jack interface address [kind, [host, port]]
func Interface(kind, host string, port int) (address.Address, error) {
	return address.New(kind, []any{host, port})
}
