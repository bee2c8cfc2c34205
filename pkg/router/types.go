package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

// RunState controls whether jack background activity is running
type RunState int

const (
	// Stopped means no jack is running its background activity
	Stopped RunState = iota
	// Threaded means every registered jack runs in its own goroutine
	Threaded
)

// String returns the lowercase name of the state
func (s RunState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Threaded:
		return "threaded"
	default:
		return fmt.Sprintf("runstate(%d)", int(s))
	}
}

// ParseRunState converts a state name into a RunState
func ParseRunState(s string) (RunState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stopped", "stop":
		return Stopped, nil
	case "threaded", "thread", "running":
		return Threaded, nil
	default:
		return Stopped, fmt.Errorf("%w: %q", ErrUnknownRunState, s)
	}
}

// Result is the outcome of a single Deliver call
type Result int

const (
	// ResultRouted means a recipient accepted the frame
	ResultRouted Result = iota
	// ResultReceipt means the frame was a direct receipt and was only logged
	ResultReceipt
	// ResultMalformed means the raw bytes did not parse as a frame
	ResultMalformed
	// ResultNoRoute means no client or jack matched the destination
	ResultNoRoute
	// ResultDispatchFailed means the recipient returned an error or panicked
	ResultDispatchFailed
)

// String returns the label used in logs and metrics
func (r Result) String() string {
	switch r {
	case ResultRouted:
		return "routed"
	case ResultReceipt:
		return "receipt"
	case ResultMalformed:
		return "malformed"
	case ResultNoRoute:
		return "no_route"
	case ResultDispatchFailed:
		return "dispatch_failed"
	default:
		return "unknown"
	}
}

// Results lists every Result value
func Results() []Result {
	return []Result{ResultRouted, ResultReceipt, ResultMalformed, ResultNoRoute, ResultDispatchFailed}
}

var (
	// ErrNoRoute means no recipient is registered for a destination
	ErrNoRoute = errors.New("no route to destination")

	// ErrUnknownRunState is returned by ParseRunState
	ErrUnknownRunState = errors.New("unknown run state")

	// ErrRouterClosed is returned by operations on a closed router
	ErrRouterClosed = errors.New("router is closed")

	// ErrInvalidInterface is returned when a recipient's interface address is unusable
	ErrInvalidInterface = errors.New("invalid interface address")

	// ErrRecipientPanic is wrapped by a DispatchError built from a recovered panic
	ErrRecipientPanic = errors.New("recipient panicked")
)

// DispatchError wraps a failure raised by a recipient during Route.
// A recovered panic is carried as an error in Err.
type DispatchError struct {
	Addr      address.Address
	Recipient address.Address
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s for %s failed: %v", e.Recipient, e.Addr, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
