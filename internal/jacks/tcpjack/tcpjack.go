// Package tcpjack carries frames over plain TCP connections.
package tcpjack

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/internal/jacks"
	"github.com/rmacdonaldsmith/ejtp-go/internal/stream"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// Kind is the transport kind in tcp addresses
const Kind = "tcp"

// Config holds configuration for a TCP jack
type Config struct {
	// Host and Port form the jack interface and, with Listen, the bind address.
	// Port 0 binds an ephemeral port that is reflected in the interface.
	Host   string
	Port   int
	Listen bool

	DialTimeout    time.Duration
	ReadBufferSize int
	MaxFrameSize   int

	Deliverer router.Deliverer
	Logger    *zap.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("tcp jack host cannot be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("tcp jack port must be in 0-65535")
	}
	if c.Deliverer == nil {
		return stream.ErrNilDeliverer
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = stream.DefaultReadBufferSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Jack is a stream jack over TCP
type Jack struct {
	*stream.Jack
	listeners *listenerFactory
}

// New creates a TCP jack. With Listen set the port is bound immediately.
func New(config *Config) (*Jack, error) {
	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var factory *listenerFactory
	port := cfg.Port
	if cfg.Listen {
		ln, err := net.Listen("tcp", jacks.JoinHostPort(cfg.Host, cfg.Port))
		if err != nil {
			return nil, err
		}
		port = ln.Addr().(*net.TCPAddr).Port
		factory = &listenerFactory{
			pending:  ln,
			bindAddr: ln.Addr().String(),
			readBuf:  cfg.ReadBufferSize,
		}
	}

	iface, err := jacks.Interface(Kind, cfg.Host, port)
	if err != nil {
		return nil, err
	}

	jc := &stream.JackConfig{
		Interface: iface,
		Addressing: &Addressing{
			dialer:  net.Dialer{Timeout: cfg.DialTimeout},
			readBuf: cfg.ReadBufferSize,
		},
		Deliverer:  cfg.Deliverer,
		Connection: stream.ConnectionConfig{MaxFrameSize: cfg.MaxFrameSize},
		Logger:     cfg.Logger,
	}
	if factory != nil {
		jc.Listen = factory.listen
	}

	sj, err := stream.NewJack(jc)
	if err != nil {
		if factory != nil {
			_ = factory.close()
		}
		return nil, err
	}
	return &Jack{Jack: sj, listeners: factory}, nil
}

// Close closes the jack and any listener that was never handed to Run
func (j *Jack) Close() error {
	err := j.Jack.Close()
	if j.listeners != nil {
		err = multierr.Append(err, j.listeners.close())
	}
	return err
}

// Addressing dials TCP peers
type Addressing struct {
	dialer  net.Dialer
	readBuf int
}

func (a *Addressing) Label(target address.Address) (string, error) {
	return jacks.Label(Kind, target)
}

func (a *Addressing) Dial(ctx context.Context, target address.Address) (stream.Transport, error) {
	label, err := a.Label(target)
	if err != nil {
		return nil, err
	}
	conn, err := a.dialer.DialContext(ctx, "tcp", label)
	if err != nil {
		return nil, err
	}
	return stream.NewIOTransport(conn, a.readBuf), nil
}

// listenerFactory hands the listener bound by New to the first Run and
// rebinds the same address for later ones.
type listenerFactory struct {
	mu       sync.Mutex
	pending  net.Listener
	bindAddr string
	readBuf  int
}

func (f *listenerFactory) listen(ctx context.Context) (stream.Listener, error) {
	f.mu.Lock()
	ln := f.pending
	f.pending = nil
	f.mu.Unlock()

	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", f.bindAddr)
		if err != nil {
			return nil, err
		}
	}
	return &listener{ln: ln, readBuf: f.readBuf}, nil
}

func (f *listenerFactory) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return nil
	}
	err := f.pending.Close()
	f.pending = nil
	return err
}

type listener struct {
	ln      net.Listener
	readBuf int
}

// Accept ignores ctx; the jack closes the listener to unblock it.
// Inbound connections are labeled with the peer's ephemeral remote address,
// which no outbound Label produces, so replies to that peer use a dial of their own.
func (l *listener) Accept(_ context.Context) (string, stream.Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return "", nil, err
	}
	return conn.RemoteAddr().String(), stream.NewIOTransport(conn, l.readBuf), nil
}

func (l *listener) Close() error {
	return l.ln.Close()
}

var (
	_ router.Jack       = (*Jack)(nil)
	_ stream.Addressing = (*Addressing)(nil)
	_ stream.Listener   = (*listener)(nil)
)
