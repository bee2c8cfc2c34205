// Package quicjack carries frames over QUIC, one bidirectional stream per peer connection.
package quicjack

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/internal/jacks"
	"github.com/rmacdonaldsmith/ejtp-go/internal/stream"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

const (
	// Kind is the transport kind in quic addresses
	Kind = "quic"

	// ALPN is the application protocol negotiated on every connection
	ALPN = "ejtp-quic"
)

// Config holds configuration for a QUIC jack
type Config struct {
	Host   string
	Port   int
	Listen bool

	DialTimeout    time.Duration
	IdleTimeout    time.Duration
	ReadBufferSize int
	MaxFrameSize   int

	// TLS overrides the generated self-signed configuration
	TLS *tls.Config

	Deliverer router.Deliverer
	Logger    *zap.Logger
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("quic jack host cannot be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("quic jack port must be in 0-65535")
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
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 3 * time.Minute
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = stream.DefaultReadBufferSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Jack is a stream jack over QUIC
type Jack struct {
	*stream.Jack
	listeners *listenerFactory
}

// New creates a QUIC jack. With Listen set the UDP port is bound immediately.
func New(config *Config) (*Jack, error) {
	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tlsConf := cfg.TLS
	if tlsConf == nil {
		var err error
		tlsConf, err = generateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("generate tls config: %w", err)
		}
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:  cfg.IdleTimeout,
		KeepAlivePeriod: cfg.IdleTimeout / 3,
	}

	var factory *listenerFactory
	port := cfg.Port
	if cfg.Listen {
		udpAddr, err := net.ResolveUDPAddr("udp", jacks.JoinHostPort(cfg.Host, cfg.Port))
		if err != nil {
			return nil, err
		}
		udpConn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			return nil, err
		}
		port = udpConn.LocalAddr().(*net.UDPAddr).Port
		factory = &listenerFactory{
			pending:  udpConn,
			bindAddr: udpConn.LocalAddr().String(),
			tls:      tlsConf,
			quic:     quicConf,
			readBuf:  cfg.ReadBufferSize,
			logger:   cfg.Logger,
		}
	}

	iface, err := jacks.Interface(Kind, cfg.Host, port)
	if err != nil {
		return nil, err
	}

	jc := &stream.JackConfig{
		Interface: iface,
		Addressing: &Addressing{
			tls:         tlsConf,
			quic:        quicConf,
			dialTimeout: cfg.DialTimeout,
			readBuf:     cfg.ReadBufferSize,
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

// Close closes the jack and any socket that was never handed to Run
func (j *Jack) Close() error {
	err := j.Jack.Close()
	if j.listeners != nil {
		err = multierr.Append(err, j.listeners.close())
	}
	return err
}

// Addressing dials QUIC peers
type Addressing struct {
	tls         *tls.Config
	quic        *quic.Config
	dialTimeout time.Duration
	readBuf     int
}

func (a *Addressing) Label(target address.Address) (string, error) {
	return jacks.Label(Kind, target)
}

func (a *Addressing) Dial(ctx context.Context, target address.Address) (stream.Transport, error) {
	label, err := a.Label(target)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.dialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, label, a.tls, a.quic)
	if err != nil {
		return nil, err
	}
	str, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, err
	}
	return newTransport(conn, str, a.readBuf), nil
}

func newTransport(conn *quic.Conn, str *quic.Stream, readBuf int) *stream.IOTransport {
	return stream.NewIOTransport(str, readBuf).WithCloser(func() error {
		str.CancelRead(0)
		return multierr.Append(str.Close(), conn.CloseWithError(0, ""))
	})
}

// listenerFactory hands the socket bound by New to the first Run and
// rebinds the same address for later ones.
type listenerFactory struct {
	mu       sync.Mutex
	pending  *net.UDPConn
	bindAddr string
	tls      *tls.Config
	quic     *quic.Config
	readBuf  int
	logger   *zap.Logger
}

func (f *listenerFactory) listen(ctx context.Context) (stream.Listener, error) {
	f.mu.Lock()
	udpConn := f.pending
	f.pending = nil
	f.mu.Unlock()

	if udpConn == nil {
		udpAddr, err := net.ResolveUDPAddr("udp", f.bindAddr)
		if err != nil {
			return nil, err
		}
		udpConn, err = net.ListenUDP("udp", udpAddr)
		if err != nil {
			return nil, err
		}
	}

	ln, err := quic.Listen(udpConn, f.tls, f.quic)
	if err != nil {
		_ = udpConn.Close()
		return nil, err
	}
	return newListener(ctx, ln, udpConn, f.readBuf, f.logger), nil
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

type accepted struct {
	label     string
	transport stream.Transport
}

// listener accepts QUIC connections and waits for each peer's first stream
// in the background, so a silent peer does not hold up the others.
type listener struct {
	ln      *quic.Listener
	udp     *net.UDPConn
	readBuf int
	logger  *zap.Logger

	ready  chan accepted
	failed chan error
	ctx    context.Context
	cancel context.CancelFunc
}

func newListener(ctx context.Context, ln *quic.Listener, udp *net.UDPConn, readBuf int, logger *zap.Logger) *listener {
	lctx, cancel := context.WithCancel(ctx)
	l := &listener{
		ln:      ln,
		udp:     udp,
		readBuf: readBuf,
		logger:  logger,
		ready:   make(chan accepted),
		failed:  make(chan error, 1),
		ctx:     lctx,
		cancel:  cancel,
	}
	go l.acceptConns()
	return l
}

func (l *listener) acceptConns() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			l.failed <- err
			return
		}
		go l.acceptStream(conn)
	}
}

func (l *listener) acceptStream(conn *quic.Conn) {
	str, err := conn.AcceptStream(l.ctx)
	if err != nil {
		l.logger.Debug("Peer opened no stream", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		_ = conn.CloseWithError(0, "no stream")
		return
	}

	// Labeled by the peer's ephemeral address; replies dial separately
	t := newTransport(conn, str, l.readBuf)
	select {
	case l.ready <- accepted{label: conn.RemoteAddr().String(), transport: t}:
	case <-l.ctx.Done():
		_ = t.Close()
	}
}

func (l *listener) Accept(ctx context.Context) (string, stream.Transport, error) {
	select {
	case a := <-l.ready:
		return a.label, a.transport, nil
	case err := <-l.failed:
		return "", nil, err
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (l *listener) Close() error {
	l.cancel()
	return multierr.Append(l.ln.Close(), l.udp.Close())
}

func generateTLSConfig() (*tls.Config, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
		Certificates: []tls.Certificate{
			{Certificate: [][]byte{der}, PrivateKey: priv},
		},
	}, nil
}

var (
	_ router.Jack       = (*Jack)(nil)
	_ stream.Addressing = (*Addressing)(nil)
	_ stream.Listener   = (*listener)(nil)
)
