// Package discovery locates peer routers to connect to at startup.
package discovery

import (
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

// StaticDiscovery implements Discovery using a fixed list of JSON-encoded
// addresses, e.g. ["tcp",["10.0.0.2",9000]]
type StaticDiscovery struct {
	peers []string
}

// NewStaticDiscovery creates a static discovery service over the given peers
func NewStaticDiscovery(peers []string) *StaticDiscovery {
	return &StaticDiscovery{
		peers: append([]string(nil), peers...),
	}
}

// FindPeers parses every configured peer. Longer addresses are trimmed to
// their jack prefix, since a peer is reached through its jack.
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]address.Address, error) {
	out := make([]address.Address, 0, len(s.peers))
	for i, raw := range s.peers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr, err := address.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("peer %d: %w", i, err)
		}
		if err := addr.Validate(); err != nil {
			return nil, fmt.Errorf("peer %d: %w", i, err)
		}
		out = append(out, addr.Prefix(address.JackPrefixLen))
	}
	return out, nil
}

var _ Discovery = (*StaticDiscovery)(nil)
