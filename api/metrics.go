package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pta-hub/dues-engine/generic"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	paymentsRecorded *prometheus.CounterVec
	paymentAmount    *prometheus.CounterVec
	waivers          *prometheus.CounterVec
	overdueFlagged   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewMetrics registers collectors on a private registry so tests can build
// as many as they like.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		paymentsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pta_payments_recorded_total",
			Help: "Payments recorded, by entry kind and payment method.",
		}, []string{"kind", "method"}),
		paymentAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pta_payment_amount_total",
			Help: "Sum of recorded payment amounts, by entry kind.",
		}, []string{"kind"}),
		waivers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pta_waivers_total",
			Help: "Entries waived, by kind.",
		}, []string{"kind"}),
		overdueFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pta_overdue_flagged_total",
			Help: "Entries flagged overdue by the sweeper, by kind.",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pta_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route pattern and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.paymentsRecorded,
		m.paymentAmount,
		m.waivers,
		m.overdueFlagged,
		m.requestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) PaymentRecorded(e generic.Entry, p generic.Payment) {
	m.paymentsRecorded.WithLabelValues(string(e.Kind), string(p.Method)).Inc()
	m.paymentAmount.WithLabelValues(string(e.Kind)).Add(p.Amount.InexactFloat64())
}

func (m *Metrics) Waived(e generic.Entry) {
	m.waivers.WithLabelValues(string(e.Kind)).Inc()
}

func (m *Metrics) OverdueFlagged(flagged []generic.Entry) {
	for _, e := range flagged {
		m.overdueFlagged.WithLabelValues(string(e.Kind)).Inc()
	}
}

// Instrument records request latency labelled by chi route pattern, which
// keeps label cardinality bounded.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
