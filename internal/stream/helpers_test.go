package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// memTransport is one end of an in-memory duplex pipe
type memTransport struct {
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	peer      *memTransport

	mu   sync.Mutex
	sent [][]byte
}

func newMemPair() (*memTransport, *memTransport) {
	a := &memTransport{incoming: make(chan []byte, 256), closed: make(chan struct{})}
	b := &memTransport{incoming: make(chan []byte, 256), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (m *memTransport) SendBytes(data []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), data...))
	m.mu.Unlock()

	if m.peer == nil {
		return nil
	}
	select {
	case <-m.closed:
		return io.ErrClosedPipe
	case <-m.peer.closed:
		return io.ErrClosedPipe
	case m.peer.incoming <- append([]byte(nil), data...):
		return nil
	}
}

func (m *memTransport) ReceiveBytes(ctx context.Context) ([]byte, error) {
	var peerClosed chan struct{}
	if m.peer != nil {
		peerClosed = m.peer.closed
	}
	select {
	case data := <-m.incoming:
		return data, nil
	case <-m.closed:
		return nil, io.ErrClosedPipe
	case <-peerClosed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *memTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *memTransport) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// blockingTransport ignores ctx and only returns from ReceiveBytes once closed
type blockingTransport struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{closed: make(chan struct{})}
}

func (b *blockingTransport) SendBytes([]byte) error { return nil }

func (b *blockingTransport) ReceiveBytes(context.Context) ([]byte, error) {
	<-b.closed
	return nil, io.ErrClosedPipe
}

func (b *blockingTransport) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// collectSink records ingested payloads
type collectSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *collectSink) Ingest(_ context.Context, payload []byte) {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
}

func (c *collectSink) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	for i, p := range c.payloads {
		out[i] = string(p)
	}
	return out
}

// recordingDeliverer implements router.Deliverer
type recordingDeliverer struct {
	collectSink
}

func (r *recordingDeliverer) Deliver(ctx context.Context, raw []byte) router.Result {
	r.Ingest(ctx, raw)
	return router.ResultReceipt
}

// memAddressing dials in-memory pipes and keeps the remote ends
type memAddressing struct {
	dials    atomic.Int32
	mu       sync.Mutex
	remotes  map[string][]*memTransport
	failDial bool
}

func newMemAddressing() *memAddressing {
	return &memAddressing{remotes: make(map[string][]*memTransport)}
}

func (m *memAddressing) Label(target address.Address) (string, error) {
	if target.Len() < address.JackPrefixLen {
		return "", errors.New("address too short")
	}
	return fmt.Sprint(target[1]), nil
}

func (m *memAddressing) Dial(_ context.Context, target address.Address) (Transport, error) {
	m.dials.Add(1)
	if m.failDial {
		return nil, errors.New("connection refused")
	}
	label, err := m.Label(target)
	if err != nil {
		return nil, err
	}
	local, remote := newMemPair()
	m.mu.Lock()
	m.remotes[label] = append(m.remotes[label], remote)
	m.mu.Unlock()
	return local, nil
}

func (m *memAddressing) remote(label string, i int) *memTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.remotes[label]) {
		return nil
	}
	return m.remotes[label][i]
}

// memListener hands out transports pushed by the test
type memListener struct {
	accepts   chan *memTransport
	closed    chan struct{}
	closeOnce sync.Once
}

func newMemListener() *memListener {
	return &memListener{accepts: make(chan *memTransport, 8), closed: make(chan struct{})}
}

func (l *memListener) Accept(ctx context.Context) (string, Transport, error) {
	select {
	case t := <-l.accepts:
		return fmt.Sprintf("inbound-%p", t), t, nil
	case <-l.closed:
		return "", nil, io.ErrClosedPipe
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}
