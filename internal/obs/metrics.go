package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emr_http_requests_total",
			Help: "HTTP requests processed, labelled by method, path pattern and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emr_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "emr_http_in_flight_requests",
			Help: "HTTP requests currently being served.",
		},
	)

	authzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emr_authz_decisions_total",
			Help: "Access decisions made by the gateway, labelled by outcome and denial reason.",
		},
		[]string{"outcome", "reason"},
	)

	auditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emr_audit_writes_total",
			Help: "Audit record writes, labelled by result.",
		},
		[]string{"status"},
	)
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			httpInFlight,
			authzDecisionsTotal,
			auditWritesTotal,
		)
	})
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthzDecision counts one gateway decision. reason is empty for
// allowed requests.
func ObserveAuthzDecision(allowed bool, reason string) {
	outcome := "allow"
	if !allowed {
		outcome = "deny"
	}
	authzDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveAuditWrite counts one attempt to persist an audit record.
func ObserveAuditWrite(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	auditWritesTotal.WithLabelValues(status).Inc()
}

// Instrument counts requests, latency and in-flight load. The matched
// route pattern, not the raw URL, labels the path to bound cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		pattern := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}
