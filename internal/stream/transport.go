package stream

import (
	"context"
	"io"
	"sync"
)

// DefaultReadBufferSize is the read size used by IOTransport
const DefaultReadBufferSize = 32 << 10

// IOTransport adapts an io.ReadWriteCloser such as a net.Conn to Transport.
// A pending read is unblocked by Close, not by ctx.
type IOTransport struct {
	rwc     io.ReadWriteCloser
	buf     []byte
	writeMu sync.Mutex
	closer  func() error
}

// NewIOTransport wraps rwc. A non-positive readBufferSize selects DefaultReadBufferSize.
func NewIOTransport(rwc io.ReadWriteCloser, readBufferSize int) *IOTransport {
	if readBufferSize <= 0 {
		readBufferSize = DefaultReadBufferSize
	}
	return &IOTransport{
		rwc:    rwc,
		buf:    make([]byte, readBufferSize),
		closer: rwc.Close,
	}
}

// WithCloser replaces the function used by Close
func (t *IOTransport) WithCloser(closer func() error) *IOTransport {
	t.closer = closer
	return t
}

// SendBytes writes data in full. Concurrent senders do not interleave.
func (t *IOTransport) SendBytes(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.rwc.Write(data)
	return err
}

// ReceiveBytes returns the bytes of the next successful read
func (t *IOTransport) ReceiveBytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := t.rwc.Read(t.buf)
	if n > 0 {
		return append([]byte(nil), t.buf[:n]...), nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}

func (t *IOTransport) Close() error {
	return t.closer()
}

var _ Transport = (*IOTransport)(nil)
