package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/internal/messagelog"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/frame"
	msglog "github.com/rmacdonaldsmith/ejtp-go/pkg/messagelog"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// maxLoggedRaw bounds how much of an unparseable message is written to the logger
const maxLoggedRaw = 256

type jackEntry struct {
	jack router.Jack
	seq  uint64

	// cancel and done are set while the jack's Run is active
	cancel context.CancelFunc
	done   chan struct{}
}

type clientEntry struct {
	client router.Client
	seq    uint64
}

// Router dispatches raw frames between jacks and clients.
// It is safe for concurrent use.
type Router struct {
	logger  *zap.Logger
	log     msglog.Log
	metrics *metrics

	stopTimeout time.Duration

	mu       sync.RWMutex
	jacks    map[string]*jackEntry
	clients  map[string]*clientEntry
	seq      uint64
	runstate router.RunState
	closed   bool
}

// NewRouter creates a Stopped router and registers the configured recipients
func NewRouter(config *Config) (*Router, error) {
	var cfg Config
	if config != nil {
		cfg = *config
	}
	cfg.SetDefaults()

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register router metrics: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = messagelog.NewInMemoryLog()
	}
	if cfg.DisableLog {
		log.SetEnabled(false)
	}

	r := &Router{
		logger:      cfg.Logger,
		log:         log,
		metrics:     m,
		stopTimeout: cfg.StopTimeout,
		jacks:       make(map[string]*jackEntry),
		clients:     make(map[string]*clientEntry),
		runstate:    router.Stopped,
	}

	for _, j := range cfg.Jacks {
		if err := r.RegisterJack(j); err != nil {
			return nil, err
		}
	}
	for _, c := range cfg.Clients {
		if err := r.RegisterClient(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Log returns the router's message log
func (r *Router) Log() msglog.Log {
	return r.log
}

// RunState returns the current run state
func (r *Router) RunState() router.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runstate
}

// RegisterJack adds jack under the first JackPrefixLen fields of its interface,
// replacing and stopping any jack registered under the same key. When the router
// is Threaded the new jack is started.
func (r *Router) RegisterJack(jack router.Jack) error {
	iface := jack.Interface()
	if err := iface.Validate(); err != nil {
		return fmt.Errorf("%w: %v", router.ErrInvalidInterface, err)
	}
	key := iface.Prefix(address.JackPrefixLen).Key()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return router.ErrRouterClosed
	}
	old := r.jacks[key]
	if old != nil && old.jack == jack {
		r.mu.Unlock()
		return nil
	}
	var stopOld func(context.Context) error
	if old != nil {
		stopOld = old.detach()
	}
	r.seq++
	entry := &jackEntry{jack: jack, seq: r.seq}
	r.jacks[key] = entry
	if r.runstate == router.Threaded {
		r.startJack(entry)
	}
	r.metrics.setRegistered(len(r.jacks), len(r.clients))
	r.mu.Unlock()

	r.logger.Info("Registered jack", zap.Stringer("iface", iface))
	if old != nil {
		r.logger.Info("Replaced jack", zap.Stringer("iface", old.jack.Interface()))
		return stopOld(context.Background())
	}
	return nil
}

// RegisterClient adds client under the first ClientPrefixLen fields of its
// interface, silently replacing any client registered under the same key.
func (r *Router) RegisterClient(client router.Client) error {
	iface := client.Interface()
	if err := iface.Validate(); err != nil {
		return fmt.Errorf("%w: %v", router.ErrInvalidInterface, err)
	}
	if iface.Len() < address.ClientPrefixLen {
		return fmt.Errorf("%w: client interface %s needs %d fields", router.ErrInvalidInterface, iface, address.ClientPrefixLen)
	}
	key := iface.Prefix(address.ClientPrefixLen).Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return router.ErrRouterClosed
	}
	r.seq++
	r.clients[key] = &clientEntry{client: client, seq: r.seq}
	r.metrics.setRegistered(len(r.jacks), len(r.clients))

	r.logger.Info("Registered client", zap.Stringer("iface", iface))
	return nil
}

// UnregisterJack removes and stops the jack registered for addr's jack prefix.
// The jack itself is not closed.
func (r *Router) UnregisterJack(addr address.Address) bool {
	key := addr.Prefix(address.JackPrefixLen).Key()

	r.mu.Lock()
	entry, ok := r.jacks[key]
	var stop func(context.Context) error
	if ok {
		stop = entry.detach()
		delete(r.jacks, key)
	}
	r.metrics.setRegistered(len(r.jacks), len(r.clients))
	r.mu.Unlock()

	if ok {
		ctx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)
		defer cancel()
		if err := stop(ctx); err != nil {
			r.logger.Warn("Error stopping unregistered jack", zap.Stringer("iface", entry.jack.Interface()), zap.Error(err))
		}
	}
	return ok
}

// UnregisterClient removes the client registered for addr's client prefix
func (r *Router) UnregisterClient(addr address.Address) bool {
	key := addr.Prefix(address.ClientPrefixLen).Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[key]
	delete(r.clients, key)
	r.metrics.setRegistered(len(r.jacks), len(r.clients))
	return ok
}

// Jacks returns the interfaces of all registered jacks in registration order
func (r *Router) Jacks() []address.Address {
	r.mu.RLock()
	entries := make([]*jackEntry, 0, len(r.jacks))
	for _, e := range r.jacks {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool { return entries[a].seq < entries[b].seq })
	out := make([]address.Address, len(entries))
	for i, e := range entries {
		out[i] = e.jack.Interface()
	}
	return out
}

// Clients returns the interfaces of all registered clients in registration order
func (r *Router) Clients() []address.Address {
	r.mu.RLock()
	entries := make([]*clientEntry, 0, len(r.clients))
	for _, e := range r.clients {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool { return entries[a].seq < entries[b].seq })
	out := make([]address.Address, len(entries))
	for i, e := range entries {
		out[i] = e.client.Interface()
	}
	return out
}

// JackRecipients returns the registered jacks themselves in registration order
func (r *Router) JackRecipients() []router.Jack {
	r.mu.RLock()
	entries := make([]*jackEntry, 0, len(r.jacks))
	for _, e := range r.jacks {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool { return entries[a].seq < entries[b].seq })
	out := make([]router.Jack, len(entries))
	for i, e := range entries {
		out[i] = e.jack
	}
	return out
}

// ResolveClient returns the client whose interface shares addr's first
// ClientPrefixLen fields.
func (r *Router) ResolveClient(addr address.Address) (router.Client, bool) {
	if addr.Len() < address.ClientPrefixLen {
		return nil, false
	}
	key := addr.Prefix(address.ClientPrefixLen).Key()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.clients[key]; ok {
		return e.client, true
	}
	return nil, false
}

// ResolveJack returns the jack whose interface shares addr's first
// JackPrefixLen fields. Failing that, the earliest registered jack with the
// same transport kind is returned.
func (r *Router) ResolveJack(addr address.Address) (router.Jack, bool) {
	key := addr.Prefix(address.JackPrefixLen).Key()
	kind := addr.Transport()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.jacks[key]; ok {
		return e.jack, true
	}
	if kind == "" {
		return nil, false
	}

	var best *jackEntry
	for _, e := range r.jacks {
		if e.jack.Interface().Transport() != kind {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.jack, true
}

// Deliver records raw in the message log, parses it and dispatches it.
// Failures are logged and reported through the Result, never returned.
func (r *Router) Deliver(ctx context.Context, raw []byte) router.Result {
	result := r.deliver(ctx, raw)
	r.metrics.observe(result)
	return result
}

func (r *Router) deliver(ctx context.Context, raw []byte) router.Result {
	if _, err := r.log.Append(ctx, raw); err != nil && !errors.Is(err, msglog.ErrLogDisabled) {
		r.logger.Warn("Message log append failed", zap.Error(err))
	}

	f, err := frame.Parse(raw)
	if err != nil {
		r.logger.Warn("Could not parse frame", zap.ByteString("raw", truncate(raw)), zap.Error(err))
		return router.ResultMalformed
	}

	if f.Type() == frame.TypeDirect {
		r.logger.Info("Frame received directly", zap.Stringer("addr", f.Addr()))
		return router.ResultReceipt
	}

	addr := f.Addr()
	var (
		recipient router.Routable
		iface     address.Address
	)
	if c, ok := r.ResolveClient(addr); ok {
		recipient, iface = c, c.Interface()
	} else if j, ok := r.ResolveJack(addr); ok {
		recipient, iface = j, j.Interface()
	} else {
		r.logger.Warn("Could not deliver frame", zap.Stringer("addr", addr), zap.Error(router.ErrNoRoute))
		return router.ResultNoRoute
	}

	if err := dispatch(ctx, recipient, iface, f); err != nil {
		if errors.Is(err, router.ErrNoRoute) {
			r.logger.Warn("Could not deliver frame", zap.Stringer("addr", addr), zap.Stringer("recipient", iface), zap.Error(err))
			return router.ResultNoRoute
		}
		r.logger.Error("Dispatch failed", zap.Stringer("addr", addr), zap.Stringer("recipient", iface), zap.Error(err))
		return router.ResultDispatchFailed
	}
	return router.ResultRouted
}

// dispatch calls Route, converting both a returned error and a panic into a DispatchError
func dispatch(ctx context.Context, recipient router.Routable, iface address.Address, f *frame.Frame) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &router.DispatchError{
				Addr:      f.Addr(),
				Recipient: iface,
				Err:       fmt.Errorf("%w: %v", router.ErrRecipientPanic, p),
			}
		}
	}()

	if routeErr := recipient.Route(ctx, f); routeErr != nil {
		return &router.DispatchError{Addr: f.Addr(), Recipient: iface, Err: routeErr}
	}
	return nil
}

// Run moves the router to state. Threaded starts every registered jack's Run
// in its own goroutine; Stopped cancels them and waits for them to return or
// for ctx to be done.
func (r *Router) Run(ctx context.Context, state router.RunState) error {
	switch state {
	case router.Threaded:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return router.ErrRouterClosed
		}
		if r.runstate == router.Threaded {
			return nil
		}
		for _, e := range r.jacks {
			r.startJack(e)
		}
		r.runstate = router.Threaded
		r.logger.Info("Router running", zap.Int("jacks", len(r.jacks)))
		return nil

	case router.Stopped:
		r.mu.Lock()
		stops := make([]func(context.Context) error, 0, len(r.jacks))
		for _, e := range r.jacks {
			stops = append(stops, e.detach())
		}
		wasRunning := r.runstate == router.Threaded
		r.runstate = router.Stopped
		r.mu.Unlock()

		for _, stop := range stops {
			if err := stop(ctx); err != nil {
				return err
			}
		}
		if wasRunning {
			r.logger.Info("Router stopped")
		}
		return nil

	default:
		return fmt.Errorf("%w: %d", router.ErrUnknownRunState, int(state))
	}
}

// startJack must be called with r.mu held
func (r *Router) startJack(e *jackEntry) {
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	jack := e.jack
	go func() {
		defer close(done)
		if err := jack.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("Jack stopped with error", zap.Stringer("iface", jack.Interface()), zap.Error(err))
		}
	}()
}

// detach clears e's run handles and returns a func that cancels the detached
// Run and waits for it to return or for ctx to be done. Must be called with r.mu held.
func (e *jackEntry) detach() func(context.Context) error {
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	return func(ctx context.Context) error {
		if cancel == nil {
			return nil
		}
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the router, closes every jack and the message log. It is idempotent.
func (r *Router) Close() error {
	if err := r.Run(context.Background(), router.Stopped); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := make([]*jackEntry, 0, len(r.jacks))
	for _, e := range r.jacks {
		entries = append(entries, e)
	}
	r.jacks = make(map[string]*jackEntry)
	r.clients = make(map[string]*clientEntry)
	r.metrics.setRegistered(0, 0)
	r.mu.Unlock()

	var err error
	for _, e := range entries {
		err = multierr.Append(err, e.jack.Close())
	}
	return multierr.Append(err, r.log.Close())
}

func truncate(raw []byte) []byte {
	if len(raw) <= maxLoggedRaw {
		return raw
	}
	return raw[:maxLoggedRaw]
}

var _ router.Deliverer = (*Router)(nil)
