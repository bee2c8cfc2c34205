package router

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

const (
	kindJack   = "jack"
	kindClient = "client"
)

type metrics struct {
	frames     *prometheus.CounterVec
	registered *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	frames, err := register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ejtp_router_frames_total",
			Help: "Raw messages handled by Deliver, by result",
		},
		[]string{"result"},
	))
	if err != nil {
		return nil, err
	}

	registered, err := register(reg, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ejtp_router_registered",
			Help: "Recipients in the routing tables, by kind",
		},
		[]string{"kind"},
	))
	if err != nil {
		return nil, err
	}

	for _, r := range router.Results() {
		frames.WithLabelValues(r.String())
	}
	registered.WithLabelValues(kindJack)
	registered.WithLabelValues(kindClient)

	return &metrics{frames: frames, registered: registered}, nil
}

// register adds c to reg, reusing an identical collector that is already registered
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	are := prometheus.AlreadyRegisteredError{}
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
		return c, err
	}
	return c, err
}

func (m *metrics) observe(r router.Result) {
	m.frames.WithLabelValues(r.String()).Inc()
}

func (m *metrics) setRegistered(jacks, clients int) {
	m.registered.WithLabelValues(kindJack).Set(float64(jacks))
	m.registered.WithLabelValues(kindClient).Set(float64(clients))
}
