package router

import (
	"context"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/frame"
)

// Routable accepts a frame for onward delivery
type Routable interface {
	// Route hands f to the recipient. Errors and panics are contained by the router.
	Route(ctx context.Context, f *frame.Frame) error
}

// Addressable exposes the address a recipient is registered under
type Addressable interface {
	Interface() address.Address
}

// Client is an in-process recipient keyed by the first ClientPrefixLen fields
// of its interface address.
type Client interface {
	Routable
	Addressable
}

// Jack is a transport adapter keyed by the first JackPrefixLen fields of its
// interface address.
type Jack interface {
	Routable
	Addressable

	// Run performs the jack's background activity until ctx is cancelled
	Run(ctx context.Context) error

	// Close releases every resource held by the jack
	Close() error
}

// Deliverer is the single ingestion point for raw wire frames
type Deliverer interface {
	// Deliver logs, parses and dispatches raw. It never returns an error;
	// the Result is informational.
	Deliver(ctx context.Context, raw []byte) Result
}

// DelivererFunc adapts a plain function to the Deliverer interface
type DelivererFunc func(ctx context.Context, raw []byte) Result

// Deliver calls fn(ctx, raw)
func (fn DelivererFunc) Deliver(ctx context.Context, raw []byte) Result {
	return fn(ctx, raw)
}
