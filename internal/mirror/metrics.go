package mirror

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/k1networth/cb-testclient/internal/callback"
)

type Metrics struct {
	PublishedTotal *prometheus.CounterVec
	FailedTotal    *prometheus.CounterVec
	LagSeconds     prometheus.Gauge
}

// Instrument registers the mirror's metrics on reg. Call it before Run.
func (m *Mirror) Instrument(reg prometheus.Registerer) {
	mt := &Metrics{
		PublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mirror_published_total", Help: "Callbacks published to the mirror topic."},
			[]string{"kind"},
		),
		FailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mirror_failed_total", Help: "Callbacks that could not be published."},
			[]string{"kind"},
		),
		LagSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "mirror_lag_seconds", Help: "Seconds between receipt and publish of the last mirrored callback."},
		),
	}
	reg.MustRegister(
		mt.PublishedTotal,
		mt.FailedTotal,
		mt.LagSeconds,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "mirror_queue_depth", Help: "Callbacks waiting to be published."},
			func() float64 { return float64(m.Pending()) },
		),
	)
	m.metrics = mt
}

func (mt *Metrics) published(rec callback.Record) {
	if mt == nil {
		return
	}
	mt.PublishedTotal.WithLabelValues(string(rec.Kind)).Inc()
	mt.LagSeconds.Set(time.Since(rec.ReceivedAt).Seconds())
}

func (mt *Metrics) failed(k callback.Kind) {
	if mt != nil {
		mt.FailedTotal.WithLabelValues(string(k)).Inc()
	}
}
