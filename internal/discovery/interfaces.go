package discovery

import (
	"context"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

// Discovery defines the interface for peer discovery mechanisms
type Discovery interface {
	// FindPeers returns the jack addresses of reachable peer routers
	FindPeers(ctx context.Context) ([]address.Address, error)
}
