package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/subscriber"
	"github.com/k1networth/cb-testclient/internal/sweeper"
)

// Metrics methods are no-ops on a nil receiver so an uninstrumented Service works.
type Metrics struct {
	receivedTotal      *prometheus.CounterVec
	rejectedTotal      prometheus.Counter
	claimsTotal        *prometheus.CounterVec
	waitsTotal         *prometheus.CounterVec
	evictedTotal       prometheus.Counter
	mirrorDroppedTotal prometheus.Counter
}

// Instrument registers the relay's metrics on reg. Call it once, before serving.
func (s *Service) Instrument(reg prometheus.Registerer) {
	m := &Metrics{
		receivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "relay_callbacks_received_total", Help: "Accepted callbacks."},
			[]string{"kind"},
		),
		rejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "relay_callbacks_rejected_total", Help: "Callbacks rejected as malformed."},
		),
		claimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "relay_correlation_reads_total", Help: "Claim-on-read lookups."},
			[]string{"result"},
		),
		waitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "relay_longpoll_results_total", Help: "Long-poll resolutions by outcome."},
			[]string{"outcome"},
		),
		evictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "relay_records_evicted_total", Help: "Records removed by the sweeper."},
		),
		mirrorDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "relay_mirror_dropped_total", Help: "Callbacks not mirrored because the queue was full."},
		),
	}

	reg.MustRegister(
		m.receivedTotal,
		m.rejectedTotal,
		m.claimsTotal,
		m.waitsTotal,
		m.evictedTotal,
		m.mirrorDroppedTotal,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "relay_records", Help: "Records held in the correlation store.", ConstLabels: prometheus.Labels{"state": "unconsumed"}},
			func() float64 { return float64(s.store.Stats().Unconsumed) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "relay_records", Help: "Records held in the correlation store.", ConstLabels: prometheus.Labels{"state": "consumed"}},
			func() float64 { return float64(s.store.Stats().Consumed) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "relay_waiters", Help: "Long polls currently parked."},
			func() float64 { return float64(s.waiters.Len()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "relay_streams_open", Help: "Open broadcast streams."},
			func() float64 { return float64(s.hub.Stats().Open) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "relay_streams_dropped_total", Help: "Streams removed after a failed delivery."},
			func() float64 { return float64(s.hub.Stats().Dropped) },
		),
	)

	// Wait's immediate path counts itself; parked waiters report through the registry.
	s.waiters.OnResolve(m.waited)
	s.sweeper.OnSweep = func(r sweeper.Report) { m.evictedTotal.Add(float64(r.Evicted)) }
	s.metrics = m
}

func (m *Metrics) received(k callback.Kind) {
	if m != nil {
		m.receivedTotal.WithLabelValues(string(k)).Inc()
	}
}

func (m *Metrics) rejected() {
	if m != nil {
		m.rejectedTotal.Inc()
	}
}

func (m *Metrics) claimed(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.claimsTotal.WithLabelValues("hit").Inc()
		return
	}
	m.claimsTotal.WithLabelValues("miss").Inc()
}

func (m *Metrics) waited(o subscriber.Outcome) {
	if m != nil {
		m.waitsTotal.WithLabelValues(string(o)).Inc()
	}
}

func (m *Metrics) mirrorDropped() {
	if m != nil {
		m.mirrorDroppedTotal.Inc()
	}
}
