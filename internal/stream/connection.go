package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/frame"
)

var (
	// ErrConnectionClosed is returned by operations on a closed connection
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrAlreadyStarted is returned when Start is called more than once
	ErrAlreadyStarted = errors.New("connection already started")
)

// Transport is the byte-stream primitive a Connection drives
type Transport interface {
	// SendBytes writes data to the remote end
	SendBytes(data []byte) error

	// ReceiveBytes blocks until new bytes are available, ctx is done, or the
	// transport is closed
	ReceiveBytes(ctx context.Context) ([]byte, error)

	// Close releases the transport and unblocks a pending ReceiveBytes
	Close() error
}

// Sink consumes reassembled payloads
type Sink interface {
	Ingest(ctx context.Context, payload []byte)
}

// ConnectionState is the lifecycle position of a Connection
type ConnectionState int32

const (
	StateNew ConnectionState = iota
	StateRunning
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats holds traffic counters for a Connection
type Stats struct {
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
	FramesIn     uint64    `json:"frames_in"`
	FramesOut    uint64    `json:"frames_out"`
	LastActivity time.Time `json:"last_activity"`
}

// Connection is a duplex framed byte stream to one remote peer.
// Inbound bytes are reassembled into payloads and pushed to the bound Sink,
// or queued for ReceivePoll when no sink is bound.
type Connection struct {
	id        string
	transport Transport
	config    ConnectionConfig
	logger    *zap.Logger

	// mu serializes reassembly and dispatch
	mu     sync.Mutex
	buffer []byte
	sink   Sink

	queueMu sync.Mutex
	queue   [][]byte
	notify  chan struct{}

	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	framesIn     atomic.Uint64
	framesOut    atomic.Uint64
	lastActivity atomic.Int64
}

// NewConnection creates an unstarted, unbound connection over t
func NewConnection(t Transport, config *ConnectionConfig) *Connection {
	var cfg ConnectionConfig
	if config != nil {
		cfg = *config
	}
	cfg.SetDefaults()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:        id,
		transport: t,
		config:    cfg,
		logger:    cfg.Logger.With(zap.String("conn", id), zap.String("label", cfg.Label)),
		notify:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// ID returns the unique identifier of this connection
func (c *Connection) ID() string {
	return c.id
}

// Label returns the peer label this connection was created with
func (c *Connection) Label() string {
	return c.config.Label
}

// State returns the current lifecycle state
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Bind routes future payloads to sink instead of the poll queue
func (c *Connection) Bind(sink Sink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Start launches the receive goroutine. The connection stops when ctx is done.
func (c *Connection) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateNew), int32(StateRunning)) {
		if c.State() == StateClosed {
			return ErrConnectionClosed
		}
		return ErrAlreadyStarted
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	go func() {
		defer stop()
		c.receiveLoop()
	}()
	return nil
}

func (c *Connection) receiveLoop() {
	c.logger.Debug("Receive loop started")
	for {
		data, err := c.transport.ReceiveBytes(c.ctx)
		if err != nil {
			switch {
			case c.ctx.Err() != nil:
				c.logger.Debug("Receive loop stopped")
			case errors.Is(err, io.EOF):
				c.logger.Info("Peer closed connection")
			default:
				c.logger.Warn("Receive failed", zap.Error(err))
			}
			_ = c.Close()
			return
		}
		if err := c.Inject(data); err != nil {
			c.logger.Warn("Dropping connection on protocol error", zap.Error(err))
			_ = c.Close()
			return
		}
	}
}

// Close cancels the receive goroutine and closes the transport. It is idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.cancel()
		c.closeErr = c.transport.Close()
		close(c.done)
		c.logger.Debug("Connection closed")
	})
	return c.closeErr
}

// Send writes the framed wire form of f to the transport
func (c *Connection) Send(f *frame.Frame) error {
	return c.SendPayload(frame.Serialize(f))
}

// SendPayload writes Wrap(payload) to the transport
func (c *Connection) SendPayload(payload []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	wrapped := Wrap(payload)
	if err := c.transport.SendBytes(wrapped); err != nil {
		return fmt.Errorf("send to %s: %w", c.config.Label, err)
	}
	c.bytesOut.Add(uint64(len(wrapped)))
	c.framesOut.Add(1)
	c.touch()
	return nil
}

// ReceivePoll returns the next queued payload. A zero timeout never blocks.
func (c *Connection) ReceivePoll(timeout time.Duration) ([]byte, bool) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		c.queueMu.Lock()
		if len(c.queue) > 0 {
			payload := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.queueMu.Unlock()
			return payload, true
		}
		wait := c.notify
		c.queueMu.Unlock()

		if deadline == nil {
			return nil, false
		}
		select {
		case <-wait:
		case <-deadline:
			return nil, false
		}
	}
}

// Inject feeds bytes read from the transport into the reassembly buffer and
// dispatches every payload that is now complete, in order.
func (c *Connection) Inject(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bytesIn.Add(uint64(len(data)))
	c.touch()
	c.buffer = append(c.buffer, data...)

	for {
		dot := bytes.IndexByte(c.buffer, lengthDelimiter)
		if dot < 0 {
			if len(c.buffer) > maxPrefixDigits {
				c.buffer = nil
				return fmt.Errorf("%w: no delimiter in first %d bytes", ErrBadLengthPrefix, maxPrefixDigits)
			}
			return nil
		}

		size, err := parseLength(c.buffer[:dot])
		if err != nil {
			token := string(c.buffer[:dot])
			c.buffer = nil
			return fmt.Errorf("%w: %q", err, token)
		}
		if size > uint64(c.config.MaxFrameSize) {
			c.buffer = nil
			return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, c.config.MaxFrameSize)
		}

		rest := c.buffer[dot+1:]
		if uint64(len(rest)) < size {
			return nil
		}

		payload := append([]byte(nil), rest[:size]...)
		c.buffer = rest[size:]
		if len(c.buffer) == 0 {
			c.buffer = nil
		}
		c.dispatch(payload)
	}
}

// dispatch must be called with c.mu held
func (c *Connection) dispatch(payload []byte) {
	c.framesIn.Add(1)
	if c.sink != nil {
		c.sink.Ingest(c.ctx, payload)
		return
	}

	c.queueMu.Lock()
	c.queue = append(c.queue, payload)
	close(c.notify)
	c.notify = make(chan struct{})
	c.queueMu.Unlock()
}

// Stats returns a snapshot of the traffic counters
func (c *Connection) Stats() Stats {
	s := Stats{
		BytesIn:   c.bytesIn.Load(),
		BytesOut:  c.bytesOut.Load(),
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
	}
	if ts := c.lastActivity.Load(); ts != 0 {
		s.LastActivity = time.Unix(0, ts)
	}
	return s
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}
