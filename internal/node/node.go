// Package node wires a router, its jacks, mailbox clients and message log
// into one running instance built from configuration.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/internal/client"
	"github.com/rmacdonaldsmith/ejtp-go/internal/config"
	"github.com/rmacdonaldsmith/ejtp-go/internal/discovery"
	"github.com/rmacdonaldsmith/ejtp-go/internal/jacks/quicjack"
	"github.com/rmacdonaldsmith/ejtp-go/internal/jacks/tcpjack"
	"github.com/rmacdonaldsmith/ejtp-go/internal/messagelog"
	irouter "github.com/rmacdonaldsmith/ejtp-go/internal/router"
	"github.com/rmacdonaldsmith/ejtp-go/internal/stream"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	msglog "github.com/rmacdonaldsmith/ejtp-go/pkg/messagelog"
	nodepkg "github.com/rmacdonaldsmith/ejtp-go/pkg/node"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// streamJack is satisfied by every jack built on internal/stream
type streamJack interface {
	router.Jack
	Connections() []stream.ConnectionInfo
	GetOrCreateConnection(ctx context.Context, addr address.Address) (*stream.Connection, error)
}

// Node implements the node.Node interface
type Node struct {
	id        string
	logger    *zap.Logger
	registry  *prometheus.Registry
	discovery discovery.Discovery

	log    *messagelog.InMemoryLog
	router *irouter.Router

	// jacks is keyed by transport kind; config allows one jack per kind
	jacks    map[string]streamJack
	clients  map[string]*client.Mailbox
	mailbox  map[string]*client.Mailbox
	order    []string
	settings config.Config

	mu        sync.RWMutex
	started   bool
	closed    bool
	startedAt time.Time
}

// New builds a node from config. Jacks with Listen set bind their ports
// immediately; nothing is accepted until Start.
func New(config *Config) (n *Node, err error) {
	if config == nil {
		return nil, ErrNilSettings
	}
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	settings := *cfg.Settings
	logger := cfg.Logger.With(zap.String("node", settings.NodeID))

	log := messagelog.NewInMemoryLog()
	log.SetEnabled(settings.Router.LogEnabled)

	r, err := irouter.NewRouter(&irouter.Config{
		Logger:     logger.Named("router"),
		Log:        log,
		Registerer: cfg.Registry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	n = &Node{
		id:        settings.NodeID,
		logger:    logger,
		registry:  cfg.Registry,
		discovery: cfg.Discovery,
		log:       log,
		router:    r,
		jacks:     make(map[string]streamJack),
		clients:   make(map[string]*client.Mailbox),
		mailbox:   make(map[string]*client.Mailbox),
		settings:  settings,
	}

	for _, jc := range settings.Jacks {
		jack, err := n.buildJack(jc)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s jack: %w", jc.Kind, err)
		}
		if err := r.RegisterJack(jack); err != nil {
			_ = jack.Close()
			return nil, fmt.Errorf("failed to register %s jack: %w", jc.Kind, err)
		}
		n.jacks[jc.Kind] = jack
	}

	for _, cc := range settings.Clients {
		mb, err := n.buildClient(cc)
		if err != nil {
			return nil, fmt.Errorf("failed to create client %q: %w", cc.Name, err)
		}
		if err := r.RegisterClient(mb); err != nil {
			return nil, fmt.Errorf("failed to register client %q: %w", cc.Name, err)
		}
		n.clients[cc.Name] = mb
		n.mailbox[mb.Interface().Key()] = mb
		n.order = append(n.order, cc.Name)
	}

	return n, nil
}

func (n *Node) buildJack(jc config.JackConfig) (streamJack, error) {
	logger := n.logger.Named(jc.Kind + "jack")
	switch jc.Kind {
	case tcpjack.Kind:
		j, err := tcpjack.New(&tcpjack.Config{
			Host:         jc.Host,
			Port:         jc.Port,
			Listen:       jc.Listen,
			MaxFrameSize: n.settings.Router.MaxFrameSize,
			Deliverer:    n.router,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return j, nil
	case quicjack.Kind:
		j, err := quicjack.New(&quicjack.Config{
			Host:         jc.Host,
			Port:         jc.Port,
			Listen:       jc.Listen,
			MaxFrameSize: n.settings.Router.MaxFrameSize,
			Deliverer:    n.router,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unsupported jack kind %q", jc.Kind)
	}
}

func (n *Node) buildClient(cc config.ClientConfig) (*client.Mailbox, error) {
	jack, ok := n.jacks[cc.Jack]
	if !ok {
		return nil, fmt.Errorf("no %q jack configured", cc.Jack)
	}
	iface, err := address.New(append(jack.Interface().Prefix(address.JackPrefixLen), cc.Name)...)
	if err != nil {
		return nil, err
	}
	return client.NewMailbox(iface, cc.Capacity, n.logger.Named("client"))
}

// Start runs the router Threaded and connects to discovered peers. Peers that
// cannot be reached are logged and skipped. Calling Start twice is a no-op.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNodeClosed
	}
	if n.started {
		n.mu.Unlock()
		return nil
	}
	if err := n.router.Run(ctx, router.Threaded); err != nil {
		n.mu.Unlock()
		return fmt.Errorf("failed to start router: %w", err)
	}
	n.started = true
	n.startedAt = time.Now()
	n.mu.Unlock()

	n.logger.Info("Node started",
		zap.Int("jacks", len(n.jacks)),
		zap.Int("clients", len(n.clients)))

	n.prewarm(ctx)
	return nil
}

func (n *Node) prewarm(ctx context.Context) {
	peers, err := n.discovery.FindPeers(ctx)
	if err != nil {
		n.logger.Warn("Peer discovery failed", zap.Error(err))
		return
	}
	for _, peer := range peers {
		jack, ok := n.jacks[peer.Transport()]
		if !ok {
			n.logger.Warn("No jack for peer transport", zap.Stringer("peer", peer))
			continue
		}
		if _, err := jack.GetOrCreateConnection(ctx, peer); err != nil {
			n.logger.Warn("Failed to connect to peer", zap.Stringer("peer", peer), zap.Error(err))
			continue
		}
		n.logger.Info("Connected to peer", zap.Stringer("peer", peer))
	}
}

// Stop moves the router to Stopped. The node can be started again.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return nil
	}
	if err := n.router.Run(ctx, router.Stopped); err != nil {
		return fmt.Errorf("failed to stop router: %w", err)
	}
	n.started = false
	n.logger.Info("Node stopped")
	return nil
}

// Close stops the node and releases the router, jacks, log and mailboxes.
// It is idempotent.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.started = false
	n.mu.Unlock()

	err := n.router.Close()
	for _, name := range n.order {
		err = multierr.Append(err, n.clients[name].Close())
	}
	n.logger.Info("Node closed")
	return err
}

// ID returns the configured node identifier
func (n *Node) ID() string {
	return n.id
}

// Router returns the underlying router
func (n *Node) Router() *irouter.Router {
	return n.router
}

// Client returns the configured mailbox called name
func (n *Node) Client(name string) (*client.Mailbox, bool) {
	mb, ok := n.clients[name]
	return mb, ok
}

// Jack returns the jack of the given transport kind
func (n *Node) Jack(kind string) (router.Jack, bool) {
	j, ok := n.jacks[kind]
	return j, ok
}

// Sender returns a sender whose replies go to the named client
func (n *Node) Sender(name string) (*client.Sender, error) {
	mb, ok := n.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown client %q", name)
	}
	return client.NewSender(mb.Interface(), n.router), nil
}

// Deliver hands raw to the router
func (n *Node) Deliver(ctx context.Context, raw []byte) router.Result {
	return n.router.Deliver(ctx, raw)
}

// SetRunState moves the router to state
func (n *Node) SetRunState(ctx context.Context, state router.RunState) error {
	switch state {
	case router.Threaded:
		return n.Start(ctx)
	case router.Stopped:
		return n.Stop(ctx)
	default:
		return fmt.Errorf("%w: %d", router.ErrUnknownRunState, int(state))
	}
}

// Log returns the message log
func (n *Node) Log() msglog.Log {
	return n.log
}

// Registry returns the metrics registry
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// Gatherer returns the metrics registry as a gatherer
func (n *Node) Gatherer() prometheus.Gatherer {
	return n.registry
}

// Settings returns a copy of the configuration the node was built from
func (n *Node) Settings() config.Config {
	return n.settings
}

// Routes returns the registered jacks and clients in registration order
func (n *Node) Routes() nodepkg.Routes {
	routes := nodepkg.Routes{
		RunState: n.router.RunState().String(),
		Jacks:    []nodepkg.JackStatus{},
		Clients:  []nodepkg.ClientStatus{},
	}

	for _, jack := range n.router.JackRecipients() {
		iface := jack.Interface()
		status := nodepkg.JackStatus{
			Interface:   iface.Key(),
			Kind:        iface.Transport(),
			Connections: []nodepkg.ConnectionStatus{},
		}
		if sj, ok := jack.(streamJack); ok {
			for _, c := range sj.Connections() {
				status.Connections = append(status.Connections, connectionStatus(c))
			}
		}
		routes.Jacks = append(routes.Jacks, status)
	}

	for _, iface := range n.router.Clients() {
		status := nodepkg.ClientStatus{Interface: iface.Key()}
		if mb, ok := n.mailbox[iface.Key()]; ok {
			status.Pending = mb.Pending()
			if name, ok := iface[address.ClientPrefixLen-1].(string); ok {
				status.Name = name
			}
		}
		routes.Clients = append(routes.Clients, status)
	}
	return routes
}

func connectionStatus(c stream.ConnectionInfo) nodepkg.ConnectionStatus {
	return nodepkg.ConnectionStatus{
		Label:        c.Label,
		ID:           c.ID,
		State:        c.State.String(),
		BytesIn:      c.Stats.BytesIn,
		BytesOut:     c.Stats.BytesOut,
		FramesIn:     c.Stats.FramesIn,
		FramesOut:    c.Stats.FramesOut,
		LastActivity: c.Stats.LastActivity,
	}
}

// GetHealth returns the overall health status of this node
func (n *Node) GetHealth(ctx context.Context) nodepkg.HealthStatus {
	n.mu.RLock()
	closed, started, startedAt := n.closed, n.started, n.startedAt
	n.mu.RUnlock()

	status := nodepkg.HealthStatus{
		NodeID:     n.id,
		RunState:   n.router.RunState().String(),
		Jacks:      len(n.router.Jacks()),
		Clients:    len(n.router.Clients()),
		LogEnabled: n.log.Enabled(),
	}
	for _, jack := range n.jacks {
		for _, c := range jack.Connections() {
			if c.State == stream.StateRunning {
				status.Connections++
			}
		}
	}
	if started {
		status.Uptime = time.Since(startedAt).Truncate(time.Second)
	}

	entries, err := n.log.Len(ctx)
	switch {
	case closed:
		status.Message = "node is closed"
	case err != nil:
		status.Message = fmt.Sprintf("message log unavailable: %v", err)
	case status.Jacks == 0 && status.Clients == 0:
		status.Message = "no jacks or clients registered"
	default:
		status.Healthy = true
		status.Message = "ok"
	}
	status.LogEntries = entries
	return status
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

var _ nodepkg.Node = (*Node)(nil)
