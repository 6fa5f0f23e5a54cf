package httpx

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes is implemented by domain handlers that mount themselves on the mux.
type Routes interface {
	Register(mux *http.ServeMux)
}

// NewRouter wires health endpoints, /metrics for reg and the given routes behind
// the request id, access log and metrics middleware. A nil reg disables metrics.
func NewRouter(log *slog.Logger, reg *prometheus.Registry, routes ...Routes) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	for _, rt := range routes {
		rt.Register(mux)
	}

	var h http.Handler = mux
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		h = NewMetrics(reg).Middleware(h)
	}
	h = AccessLog(log)(h)
	h = RequestID(h)

	return h
}
