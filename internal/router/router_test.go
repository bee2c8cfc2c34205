package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/frame"
	msglog "github.com/rmacdonaldsmith/ejtp-go/pkg/messagelog"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

// fakeRecipient works as both a router.Client and a router.Jack
type fakeRecipient struct {
	iface     address.Address
	err       error
	panicWith any

	mu     sync.Mutex
	frames []*frame.Frame

	running atomic.Int32
	runs    atomic.Int32
	closed  atomic.Bool
}

func newFake(fields ...any) *fakeRecipient {
	return &fakeRecipient{iface: address.MustNew(fields...)}
}

func (f *fakeRecipient) Interface() address.Address { return f.iface }

func (f *fakeRecipient) Route(_ context.Context, fr *frame.Frame) error {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	f.mu.Lock()
	f.frames = append(f.frames, fr)
	f.mu.Unlock()
	return f.err
}

func (f *fakeRecipient) Run(ctx context.Context) error {
	f.runs.Add(1)
	f.running.Add(1)
	defer f.running.Add(-1)
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeRecipient) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeRecipient) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func wire(t *testing.T, typ frame.Type, content string, fields ...any) []byte {
	t.Helper()
	f, err := frame.New(typ, address.MustNew(fields...), []byte(content))
	require.NoError(t, err)
	return f.Bytes()
}

func newTestRouter(t *testing.T, cfg *Config) *Router {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	r, err := NewRouter(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRouter_DeliverClientPriority(t *testing.T) {
	jack := newFake("tcp", []any{"10.0.0.1", 9000})
	alice := newFake("tcp", []any{"10.0.0.1", 9000}, "alice")
	r := newTestRouter(t, &Config{Jacks: []router.Jack{jack}, Clients: []router.Client{alice}})
	ctx := context.Background()

	result := r.Deliver(ctx, wire(t, frame.TypeRoute, "hi", "tcp", []any{"10.0.0.1", 9000}, "alice"))
	assert.Equal(t, router.ResultRouted, result)
	assert.Equal(t, 1, alice.received())
	assert.Equal(t, 0, jack.received())

	result = r.Deliver(ctx, wire(t, frame.TypeRoute, "hi", "tcp", []any{"10.0.0.1", 9000}, "bob"))
	assert.Equal(t, router.ResultRouted, result)
	assert.Equal(t, 1, alice.received())
	assert.Equal(t, 1, jack.received())
}

func TestRouter_DeliverNoRoute(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	client := newFake("tcp", []any{"h", 1}, "alice")
	r := newTestRouter(t, &Config{Logger: zap.New(core), Clients: []router.Client{client}})

	result := r.Deliver(context.Background(), wire(t, frame.TypeRoute, "x", "udp", []any{"h", 1}, "alice"))

	assert.Equal(t, router.ResultNoRoute, result)
	assert.Equal(t, 0, client.received())
	require.Equal(t, 1, logs.FilterMessage("Could not deliver frame").Len())
}

func TestRouter_DeliverReceipt(t *testing.T) {
	jack := newFake("tcp", []any{"h", 1})
	client := newFake("tcp", []any{"h", 1}, "alice")
	r := newTestRouter(t, &Config{Jacks: []router.Jack{jack}, Clients: []router.Client{client}})

	result := r.Deliver(context.Background(), wire(t, frame.TypeDirect, "x", "tcp", []any{"h", 1}, "alice"))

	assert.Equal(t, router.ResultReceipt, result)
	assert.Equal(t, 0, client.received())
	assert.Equal(t, 0, jack.received())
}

func TestRouter_DeliverMalformed(t *testing.T) {
	r := newTestRouter(t, nil)
	ctx := context.Background()

	for _, raw := range []string{"", "garbage", "r[\"tcp\"\x00x", "q[\"tcp\",\"h\"]\x00"} {
		assert.Equal(t, router.ResultMalformed, r.Deliver(ctx, []byte(raw)), raw)
	}

	entries, err := r.Log().Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "garbage", string(entries[1].Message))
}

func TestRouter_FaultIsolation(t *testing.T) {
	failing := newFake("tcp", []any{"h", 1}, "failing")
	failing.err = errors.New("recipient unavailable")
	panicking := newFake("tcp", []any{"h", 1}, "panicking")
	panicking.panicWith = "boom"
	healthy := newFake("tcp", []any{"h", 1}, "healthy")

	core, logs := observer.New(zapcore.ErrorLevel)
	r := newTestRouter(t, &Config{
		Logger:  zap.New(core),
		Clients: []router.Client{failing, panicking, healthy},
	})
	ctx := context.Background()

	t.Run("error", func(t *testing.T) {
		result := r.Deliver(ctx, wire(t, frame.TypeRoute, "", "tcp", []any{"h", 1}, "failing"))
		assert.Equal(t, router.ResultDispatchFailed, result)
	})

	t.Run("panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			result := r.Deliver(ctx, wire(t, frame.TypeRoute, "", "tcp", []any{"h", 1}, "panicking"))
			assert.Equal(t, router.ResultDispatchFailed, result)
		})
	})

	t.Run("router_still_usable", func(t *testing.T) {
		result := r.Deliver(ctx, wire(t, frame.TypeRoute, "", "tcp", []any{"h", 1}, "healthy"))
		assert.Equal(t, router.ResultRouted, result)
		assert.Equal(t, 1, healthy.received())
	})

	failures := logs.FilterMessage("Dispatch failed").All()
	require.Len(t, failures, 2)
	for _, entry := range failures {
		err, ok := entry.ContextMap()["error"]
		require.True(t, ok)
		assert.Contains(t, err, "dispatch to")
	}
}

func TestDispatch_WrapsPanic(t *testing.T) {
	p := newFake("tcp", "h", "p")
	p.panicWith = "kaboom"
	f, err := frame.New(frame.TypeRoute, address.MustNew("tcp", "h", "p"), nil)
	require.NoError(t, err)

	err = dispatch(context.Background(), p, p.Interface(), f)

	var de *router.DispatchError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, router.ErrRecipientPanic)
	assert.True(t, de.Recipient.Equal(p.Interface()))
}

func TestRouter_ResolveJack(t *testing.T) {
	tcp := newFake("tcp", []any{"0.0.0.0", 9000})
	tcp2 := newFake("tcp", []any{"0.0.0.0", 9001})
	quic := newFake("quic", []any{"0.0.0.0", 9000})
	r := newTestRouter(t, &Config{Jacks: []router.Jack{tcp, tcp2, quic}})

	t.Run("exact_prefix", func(t *testing.T) {
		j, ok := r.ResolveJack(address.MustNew("tcp", []any{"0.0.0.0", 9001}, "x"))
		require.True(t, ok)
		assert.Same(t, tcp2, j)
	})

	t.Run("transport_fallback", func(t *testing.T) {
		j, ok := r.ResolveJack(address.MustNew("tcp", []any{"10.0.0.2", 9000}, "bob"))
		require.True(t, ok)
		assert.Same(t, tcp, j)

		j, ok = r.ResolveJack(address.MustNew("quic", []any{"10.0.0.2", 7000}))
		require.True(t, ok)
		assert.Same(t, quic, j)
	})

	t.Run("unknown_transport", func(t *testing.T) {
		_, ok := r.ResolveJack(address.MustNew("udp", []any{"10.0.0.2", 9000}))
		assert.False(t, ok)
	})
}

func TestRouter_ResolveClient(t *testing.T) {
	alice := newFake("tcp", []any{"h", 1}, "alice")
	r := newTestRouter(t, &Config{Clients: []router.Client{alice}})

	c, ok := r.ResolveClient(address.MustNew("tcp", []any{"h", 1}, "alice", "extra"))
	require.True(t, ok)
	assert.Same(t, alice, c)

	_, ok = r.ResolveClient(address.MustNew("tcp", []any{"h", 1}))
	assert.False(t, ok)
	_, ok = r.ResolveClient(address.MustNew("tcp", []any{"h", 2}, "alice"))
	assert.False(t, ok)
}

func TestRouter_RegisterOverwrites(t *testing.T) {
	first := newFake("tcp", "h", "alice")
	second := newFake("tcp", "h", "alice")
	r := newTestRouter(t, &Config{Clients: []router.Client{first}})

	require.NoError(t, r.RegisterClient(second))
	assert.Len(t, r.Clients(), 1)

	r.Deliver(context.Background(), wire(t, frame.TypeRoute, "", "tcp", "h", "alice"))
	assert.Equal(t, 0, first.received())
	assert.Equal(t, 1, second.received())
}

func TestRouter_RegisterInvalid(t *testing.T) {
	r := newTestRouter(t, nil)

	assert.ErrorIs(t, r.RegisterJack(newFake("tcp")), router.ErrInvalidInterface)
	assert.ErrorIs(t, r.RegisterClient(newFake("tcp", "h")), router.ErrInvalidInterface)
	assert.ErrorIs(t, r.RegisterClient(newFake(1, "h", "x")), router.ErrInvalidInterface)

	_, err := NewRouter(&Config{Jacks: []router.Jack{newFake("tcp")}})
	assert.ErrorIs(t, err, router.ErrInvalidInterface)
}

func TestRouter_Unregister(t *testing.T) {
	jack := newFake("tcp", "h")
	client := newFake("tcp", "h", "alice")
	r := newTestRouter(t, &Config{Jacks: []router.Jack{jack}, Clients: []router.Client{client}})

	assert.True(t, r.UnregisterClient(address.MustNew("tcp", "h", "alice")))
	assert.False(t, r.UnregisterClient(address.MustNew("tcp", "h", "alice")))
	assert.True(t, r.UnregisterJack(address.MustNew("tcp", "h", "whatever")))

	assert.Empty(t, r.Jacks())
	assert.Empty(t, r.Clients())
	assert.Equal(t, router.ResultNoRoute, r.Deliver(context.Background(), wire(t, frame.TypeRoute, "", "tcp", "h", "alice")))
}

func TestRouter_Run(t *testing.T) {
	a := newFake("tcp", "a")
	b := newFake("quic", "b")
	r := newTestRouter(t, &Config{Jacks: []router.Jack{a}})
	ctx := context.Background()

	assert.Equal(t, router.Stopped, r.RunState())
	require.NoError(t, r.Run(ctx, router.Threaded))
	require.NoError(t, r.Run(ctx, router.Threaded))
	assert.Equal(t, router.Threaded, r.RunState())

	assert.Eventually(t, func() bool { return a.running.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), a.runs.Load())

	require.NoError(t, r.RegisterJack(b))
	assert.Eventually(t, func() bool { return b.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Run(ctx, router.Stopped))
	assert.Equal(t, int32(0), a.running.Load())
	assert.Equal(t, int32(0), b.running.Load())
	assert.Equal(t, router.Stopped, r.RunState())

	require.NoError(t, r.Run(ctx, router.Threaded))
	assert.Eventually(t, func() bool { return a.runs.Load() == 2 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, r.Run(ctx, router.RunState(9)), router.ErrUnknownRunState)
}

func TestRouter_ReplaceRunningJack(t *testing.T) {
	old := newFake("tcp", "h")
	replacement := newFake("tcp", "h")
	r := newTestRouter(t, &Config{Jacks: []router.Jack{old}})
	require.NoError(t, r.Run(context.Background(), router.Threaded))
	assert.Eventually(t, func() bool { return old.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.RegisterJack(replacement))

	assert.Equal(t, int32(0), old.running.Load())
	assert.Eventually(t, func() bool { return replacement.running.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRouter_Log(t *testing.T) {
	r := newTestRouter(t, &Config{DisableLog: true})
	ctx := context.Background()

	r.Deliver(ctx, []byte("ignored"))
	n, err := r.Log().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	r.Log().SetEnabled(true)
	r.Deliver(ctx, []byte("first"))
	r.Deliver(ctx, wire(t, frame.TypeDirect, "", "tcp", "h"))

	entries, err := r.Log().Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", string(entries[0].Message))
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	client := newFake("tcp", "h", "alice")
	r := newTestRouter(t, &Config{Registerer: reg, Clients: []router.Client{client}})
	ctx := context.Background()

	r.Deliver(ctx, wire(t, frame.TypeRoute, "", "tcp", "h", "alice"))
	r.Deliver(ctx, wire(t, frame.TypeRoute, "", "tcp", "h", "alice"))
	r.Deliver(ctx, []byte("bad"))

	assert.Equal(t, float64(2), testutil.ToFloat64(r.metrics.frames.WithLabelValues("routed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.frames.WithLabelValues("malformed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.registered.WithLabelValues("client")))

	count, err := testutil.GatherAndCount(reg, "ejtp_router_frames_total")
	require.NoError(t, err)
	assert.Equal(t, len(router.Results()), count)

	second, err := NewRouter(&Config{Registerer: reg})
	require.NoError(t, err, "a second router can share the registry")
	defer second.Close()
}

func TestRouter_Close(t *testing.T) {
	jack := newFake("tcp", "h")
	r, err := NewRouter(&Config{Jacks: []router.Jack{jack}})
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), router.Threaded))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.True(t, jack.closed.Load())
	assert.Equal(t, int32(0), jack.running.Load())
	assert.ErrorIs(t, r.RegisterJack(newFake("tcp", "x")), router.ErrRouterClosed)
	assert.ErrorIs(t, r.Run(context.Background(), router.Threaded), router.ErrRouterClosed)

	_, err = r.Log().Append(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, msglog.ErrLogClosed)
}

func TestRouter_RecipientWithoutRoute(t *testing.T) {
	jack := newFake("tcp", []any{"h", 1})
	jack.err = fmt.Errorf("%w: loopback", router.ErrNoRoute)
	r := newTestRouter(t, &Config{Jacks: []router.Jack{jack}})

	result := r.Deliver(context.Background(), wire(t, frame.TypeRoute, "x", "tcp", []any{"h", 1}, "nobody"))
	assert.Equal(t, router.ResultNoRoute, result)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.frames.WithLabelValues(router.ResultNoRoute.String())))
}

func TestRouter_ConcurrentMutation(t *testing.T) {
	r := newTestRouter(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(4)
		host := fmt.Sprintf("10.0.0.%d", i)

		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				jack := newFake("tcp", []any{host, n})
				assert.NoError(t, r.RegisterJack(jack))
				r.UnregisterJack(jack.Interface())
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				c := newFake("tcp", []any{host, 1}, fmt.Sprintf("c%d", n))
				assert.NoError(t, r.RegisterClient(c))
				if n%2 == 0 {
					r.UnregisterClient(c.Interface())
				}
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				r.Deliver(ctx, wire(t, frame.TypeRoute, "x", "tcp", []any{host, 1}, fmt.Sprintf("c%d", n)))
				r.ResolveJack(address.MustNew("tcp", []any{host, n}))
				_ = r.Jacks()
				_ = r.Clients()
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 10; n++ {
				state := router.Threaded
				if n%2 == 1 {
					state = router.Stopped
				}
				assert.NoError(t, r.Run(ctx, state))
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, r.Jacks())
	assert.Len(t, r.Clients(), 8*25)
	require.NoError(t, r.Run(ctx, router.Stopped))
}

// stuckJack keeps running after its context is canceled until released
type stuckJack struct {
	*fakeRecipient
	release chan struct{}
}

func (s *stuckJack) Run(context.Context) error {
	s.runs.Add(1)
	<-s.release
	return nil
}

func TestRouter_UnregisterLogsStopTimeout(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	jack := &stuckJack{fakeRecipient: newFake("tcp", "h"), release: make(chan struct{})}
	defer close(jack.release)
	r := newTestRouter(t, &Config{Logger: zap.New(core), StopTimeout: 20 * time.Millisecond, Jacks: []router.Jack{jack}})

	require.NoError(t, r.Run(context.Background(), router.Threaded))
	require.Eventually(t, func() bool { return jack.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, r.UnregisterJack(jack.Interface()))
	entries := logs.FilterMessage("Error stopping unregistered jack").All()
	require.Len(t, entries, 1)
	assert.Equal(t, context.DeadlineExceeded.Error(), entries[0].ContextMap()["error"])
}
