// Package client provides in-process recipients and originators of frames.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/frame"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// DefaultCapacity is the mailbox size used when none is configured
const DefaultCapacity = 128

var (
	// ErrMailboxFull is returned by Route when the mailbox cannot take another frame
	ErrMailboxFull = errors.New("mailbox is full")
	// ErrMailboxClosed is returned by operations on a closed mailbox
	ErrMailboxClosed = errors.New("mailbox is closed")
	// ErrNilHandler is returned when a Handler is built without a function
	ErrNilHandler = errors.New("handler function cannot be nil")
)

// Mailbox is a client that buffers routed frames for a consumer
type Mailbox struct {
	iface  address.Address
	frames chan *frame.Frame
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewMailbox creates a mailbox for iface holding up to capacity frames
func NewMailbox(iface address.Address, capacity int, logger *zap.Logger) (*Mailbox, error) {
	if err := validateInterface(iface); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{
		iface:  iface,
		frames: make(chan *frame.Frame, capacity),
		logger: logger.With(zap.Stringer("client", iface)),
	}, nil
}

func (m *Mailbox) Interface() address.Address {
	return append(address.Address(nil), m.iface...)
}

// Route enqueues f without blocking
func (m *Mailbox) Route(_ context.Context, f *frame.Frame) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrMailboxClosed
	}
	select {
	case m.frames <- f:
		m.logger.Debug("Frame queued", zap.Int("pending", len(m.frames)))
		return nil
	default:
		return fmt.Errorf("%w: %d frames pending", ErrMailboxFull, cap(m.frames))
	}
}

// Receive blocks until a frame arrives, ctx is done, or the mailbox is closed
func (m *Mailbox) Receive(ctx context.Context) (*frame.Frame, error) {
	select {
	case f, ok := <-m.frames:
		if !ok {
			return nil, ErrMailboxClosed
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Received returns the channel frames are delivered on. It is closed by Close.
func (m *Mailbox) Received() <-chan *frame.Frame {
	return m.frames
}

// Pending returns the number of frames waiting to be received
func (m *Mailbox) Pending() int {
	return len(m.frames)
}

// Close stops accepting frames. Frames already queued can still be received.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.frames)
	return nil
}

// HandlerFunc processes a routed frame
type HandlerFunc func(ctx context.Context, f *frame.Frame) error

// Handler is a client that runs a function for every routed frame on the
// caller's goroutine.
type Handler struct {
	iface address.Address
	fn    HandlerFunc
}

// NewHandler creates a handler client for iface
func NewHandler(iface address.Address, fn HandlerFunc) (*Handler, error) {
	if err := validateInterface(iface); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilHandler
	}
	return &Handler{iface: iface, fn: fn}, nil
}

func (h *Handler) Interface() address.Address {
	return append(address.Address(nil), h.iface...)
}

func (h *Handler) Route(ctx context.Context, f *frame.Frame) error {
	return h.fn(ctx, f)
}

// Sender originates frames from a local address through a Deliverer
type Sender struct {
	from      address.Address
	deliverer router.Deliverer
}

// NewSender creates a sender that hands frames to d
func NewSender(from address.Address, d router.Deliverer) *Sender {
	return &Sender{from: from, deliverer: d}
}

// From returns the sender's own address
func (s *Sender) From() address.Address {
	return append(address.Address(nil), s.from...)
}

// Send delivers a route frame carrying content to dest
func (s *Sender) Send(ctx context.Context, dest address.Address, content []byte) (router.Result, error) {
	f, err := frame.New(frame.TypeRoute, dest, content)
	if err != nil {
		return router.ResultMalformed, err
	}
	return s.deliverer.Deliver(ctx, f.Bytes()), nil
}

// Acknowledge delivers a direct receipt frame to dest
func (s *Sender) Acknowledge(ctx context.Context, dest address.Address, content []byte) (router.Result, error) {
	f, err := frame.New(frame.TypeDirect, dest, content)
	if err != nil {
		return router.ResultMalformed, err
	}
	return s.deliverer.Deliver(ctx, f.Bytes()), nil
}

func validateInterface(iface address.Address) error {
	if err := iface.Validate(); err != nil {
		return err
	}
	if iface.Len() < address.ClientPrefixLen {
		return fmt.Errorf("%w: client interface needs %d fields, got %d", address.ErrInvalidAddress, address.ClientPrefixLen, iface.Len())
	}
	return nil
}

var (
	_ router.Client = (*Mailbox)(nil)
	_ router.Client = (*Handler)(nil)
)
