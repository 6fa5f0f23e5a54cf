package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ctxKeyRoute struct{}

type routeHolder struct {
	route string
}

// WithRoute labels requests served by next with a fixed route name, so that
// query strings and path values do not explode metric cardinality.
func WithRoute(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := r.Context().Value(ctxKeyRoute{}).(*routeHolder); ok && h != nil {
			h.route = route
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyRoute{}, &routeHolder{route: route})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type metricsRecorder struct {
	http.ResponseWriter
	status int
}

func (w *metricsRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

type Metrics struct {
	reqTotal    *prometheus.CounterVec
	reqLatency  *prometheus.HistogramVec
	req5xxTotal prometheus.Counter
	inFlight    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reqTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"route", "method", "status"},
		),
		req5xxTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_requests_5xx_total",
				Help: "Total number of HTTP 5xx responses.",
			},
		),
		reqLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request latency in seconds. Long-poll and stream routes include their wait time.",
				// long polls park for up to a couple of minutes
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"route", "method"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Requests currently being served, open streams included.",
			},
		),
	}

	reg.MustRegister(m.reqTotal, m.reqLatency, m.req5xxTotal, m.inFlight)
	return m
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		holder := &routeHolder{route: "unmatched"}
		ctx := context.WithValue(r.Context(), ctxKeyRoute{}, holder)
		r = r.WithContext(ctx)

		start := time.Now()
		mw := &metricsRecorder{ResponseWriter: w, status: http.StatusOK}

		m.inFlight.Inc()
		next.ServeHTTP(mw, r)
		m.inFlight.Dec()

		route := holder.route
		status := strconv.Itoa(mw.status)

		m.reqTotal.WithLabelValues(route, r.Method, status).Inc()
		m.reqLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		if mw.status >= 500 {
			m.req5xxTotal.Inc()
		}
	})
}
