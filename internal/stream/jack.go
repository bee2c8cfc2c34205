package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/frame"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

var (
	// ErrJackClosed is returned by operations on a closed jack
	ErrJackClosed = errors.New("jack is closed")
	// ErrJackRunning is returned when Run is called while a previous Run is active
	ErrJackRunning = errors.New("jack is already running")
	// ErrConnectionNotFound is returned by RemoveConnection for an unknown label
	ErrConnectionNotFound = errors.New("connection not found")
)

// Addressing is the transport-specific half of a stream jack
type Addressing interface {
	// Label returns the connection table key for target. It must be
	// deterministic and distinct per remote peer.
	Label(target address.Address) (string, error)

	// Dial opens a transport to target
	Dial(ctx context.Context, target address.Address) (Transport, error)
}

// Listener accepts inbound transports
type Listener interface {
	Accept(ctx context.Context) (label string, t Transport, err error)
	Close() error
}

// ConnectionInfo describes one entry of the connection table
type ConnectionInfo struct {
	Label string          `json:"label"`
	ID    string          `json:"id"`
	State ConnectionState `json:"state"`
	Stats Stats           `json:"stats"`
}

// Jack multiplexes frames over persistent connections, one per remote peer.
type Jack struct {
	config JackConfig
	logger *zap.Logger
	// self is the label of the jack's own interface, empty when it has none
	self string

	mu      sync.Mutex
	conns   map[string]*Connection
	group   singleflight.Group
	running bool
	closed  bool

	// ctx outlives individual Route calls and scopes every connection
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJack creates a jack from config
func NewJack(config *JackConfig) (*Jack, error) {
	if config == nil {
		return nil, errors.New("jack config cannot be nil")
	}
	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	iface, err := address.New(cfg.Interface...)
	if err != nil {
		return nil, err
	}
	cfg.Interface = iface

	self, _ := cfg.Addressing.Label(iface)

	ctx, cancel := context.WithCancel(context.Background())
	return &Jack{
		config: cfg,
		self:   self,
		logger: cfg.Logger.With(zap.Stringer("jack", iface)),
		conns:  make(map[string]*Connection),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Interface returns the address the jack is registered under
func (j *Jack) Interface() address.Address {
	return append(address.Address(nil), j.config.Interface...)
}

// Label returns the connection table key for addr
func (j *Jack) Label(addr address.Address) (string, error) {
	return j.config.Addressing.Label(addr)
}

// CreateConnection dials addr and returns a new unstarted connection bound to the jack
func (j *Jack) CreateConnection(ctx context.Context, addr address.Address) (*Connection, error) {
	label, err := j.Label(addr)
	if err != nil {
		return nil, err
	}
	t, err := j.config.Addressing.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", label, err)
	}
	return j.newConnection(label, t), nil
}

func (j *Jack) newConnection(label string, t Transport) *Connection {
	cfg := j.config.Connection
	cfg.Label = label
	conn := NewConnection(t, &cfg)
	conn.Bind(j)
	return conn
}

// GetOrCreateConnection returns the live connection for addr, dialing one if needed.
// Concurrent callers for the same peer share a single dial.
func (j *Jack) GetOrCreateConnection(ctx context.Context, addr address.Address) (*Connection, error) {
	label, err := j.Label(addr)
	if err != nil {
		return nil, err
	}

	if conn, err := j.lookup(label); conn != nil || err != nil {
		return conn, err
	}

	v, err, _ := j.group.Do(label, func() (any, error) {
		if conn, err := j.lookup(label); conn != nil || err != nil {
			return conn, err
		}
		conn, err := j.CreateConnection(ctx, addr)
		if err != nil {
			return nil, err
		}
		if err := j.AddConnection(label, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		j.logger.Debug("Connection created", zap.String("label", label), zap.String("conn", conn.ID()))
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// lookup returns the live connection for label, evicting a closed one
func (j *Jack) lookup(label string) (*Connection, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrJackClosed
	}
	conn, ok := j.conns[label]
	if !ok {
		return nil, nil
	}
	if conn.State() == StateClosed {
		delete(j.conns, label)
		j.logger.Debug("Evicted closed connection", zap.String("label", label), zap.String("conn", conn.ID()))
		return nil, nil
	}
	return conn, nil
}

// AddConnection registers conn under label. The receive loop starts right
// away while the jack is running and on the next Run otherwise, so a stopped
// jack can still send but reads nothing.
// A different connection already registered under label is closed.
func (j *Jack) AddConnection(label string, conn *Connection) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrJackClosed
	}
	old := j.conns[label]
	j.conns[label] = conn
	running := j.running
	j.wg.Add(1)
	j.mu.Unlock()

	go func() {
		defer j.wg.Done()
		<-conn.Done()
		j.forget(label, conn)
	}()

	if old != nil && old != conn {
		_ = old.Close()
	}

	if running {
		if err := conn.Start(j.ctx); err != nil && !errors.Is(err, ErrAlreadyStarted) {
			j.forget(label, conn)
			_ = conn.Close()
			if j.ctx.Err() != nil {
				return ErrJackClosed
			}
			return err
		}
	}
	return nil
}

func (j *Jack) forget(label string, conn *Connection) {
	j.mu.Lock()
	if j.conns[label] == conn {
		delete(j.conns, label)
	}
	j.mu.Unlock()
}

// RemoveConnection evicts and closes the connection registered under label
func (j *Jack) RemoveConnection(label string) error {
	j.mu.Lock()
	conn, ok := j.conns[label]
	delete(j.conns, label)
	j.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, label)
	}
	return conn.Close()
}

// Connections returns a snapshot of the connection table sorted by label
func (j *Jack) Connections() []ConnectionInfo {
	j.mu.Lock()
	infos := make([]ConnectionInfo, 0, len(j.conns))
	for label, conn := range j.conns {
		infos = append(infos, ConnectionInfo{
			Label: label,
			ID:    conn.ID(),
			State: conn.State(),
			Stats: conn.Stats(),
		})
	}
	j.mu.Unlock()

	sort.Slice(infos, func(a, b int) bool { return infos[a].Label < infos[b].Label })
	return infos
}

// Route sends f over the connection for its destination. A destination with
// the jack's own label is never dialed and fails with router.ErrNoRoute.
func (j *Jack) Route(ctx context.Context, f *frame.Frame) error {
	if j.self != "" {
		if label, err := j.Label(f.Addr()); err == nil && label == j.self {
			return fmt.Errorf("%w: %s is this jack", router.ErrNoRoute, label)
		}
	}
	conn, err := j.GetOrCreateConnection(ctx, f.Addr())
	if err != nil {
		return err
	}
	return conn.Send(f)
}

// Ingest hands an inbound payload to the deliverer
func (j *Jack) Ingest(ctx context.Context, payload []byte) {
	result := j.config.Deliverer.Deliver(ctx, payload)
	j.logger.Debug("Ingested payload", zap.Int("size", len(payload)), zap.Stringer("result", result))
}

// Run accepts inbound connections until ctx is cancelled or the jack is closed.
// Without a listener it only waits. On return every connection is closed.
func (j *Jack) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrJackClosed
	}
	if j.running {
		j.mu.Unlock()
		return ErrJackRunning
	}
	j.running = true
	var pending []*Connection
	for _, conn := range j.conns {
		if conn.State() == StateNew {
			pending = append(pending, conn)
		}
	}
	j.mu.Unlock()
	defer j.stopRunning()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(j.ctx, cancel)
	defer stop()

	for _, conn := range pending {
		if err := conn.Start(j.ctx); err != nil && !errors.Is(err, ErrAlreadyStarted) {
			j.logger.Debug("Could not start pending connection", zap.String("conn", conn.ID()), zap.Error(err))
		}
	}

	if j.config.Listen == nil {
		<-runCtx.Done()
		j.stopRunning()
		return j.closeConnections()
	}

	ln, err := j.config.Listen(runCtx)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", j.config.Interface, err)
	}
	j.logger.Info("Jack listening")

	acceptDone := make(chan error, 1)
	go func() {
		acceptDone <- j.acceptLoop(runCtx, ln)
	}()

	var acceptErr error
	select {
	case <-runCtx.Done():
		cancel()
		closeErr := ln.Close()
		acceptErr = multierr.Append(<-acceptDone, closeErr)
	case acceptErr = <-acceptDone:
		acceptErr = multierr.Append(acceptErr, ln.Close())
	}

	j.logger.Info("Jack stopped")
	j.stopRunning()
	return multierr.Append(acceptErr, j.closeConnections())
}

// stopRunning marks the jack stopped so connections added from now on stay send-only
func (j *Jack) stopRunning() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

func (j *Jack) acceptLoop(ctx context.Context, ln Listener) error {
	for {
		label, t, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			j.logger.Error("Accept failed", zap.Error(err))
			return fmt.Errorf("accept: %w", err)
		}

		conn := j.newConnection(label, t)
		if err := j.AddConnection(label, conn); err != nil {
			_ = conn.Close()
			if errors.Is(err, ErrJackClosed) {
				return nil
			}
			j.logger.Warn("Rejected inbound connection", zap.String("label", label), zap.Error(err))
			continue
		}
		j.logger.Debug("Accepted connection", zap.String("label", label), zap.String("conn", conn.ID()))
	}
}

func (j *Jack) closeConnections() error {
	j.mu.Lock()
	conns := make([]*Connection, 0, len(j.conns))
	for label, conn := range j.conns {
		conns = append(conns, conn)
		delete(j.conns, label)
	}
	j.mu.Unlock()

	var err error
	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}
	return err
}

// Close stops the jack and closes every connection. Later Routes fail with ErrJackClosed.
func (j *Jack) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	j.cancel()
	err := j.closeConnections()
	j.wg.Wait()
	return err
}

var (
	_ router.Jack = (*Jack)(nil)
	_ Sink        = (*Jack)(nil)
)
