// Package metrics holds the Prometheus collectors of the service.
// All observe methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sampinfo"

// Lookup results.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// Metrics is a private registry with the service collectors.
type Metrics struct {
	registry        *prometheus.Registry
	lookups         *prometheus.CounterVec
	backendAttempts *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	blocks          *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates the registry with process and runtime collectors included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Server lookups by result.",
		}, []string{"result"}),
		backendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Query backend attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_duration_seconds",
			Help:      "Query backend attempt duration.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"backend"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by reason.",
		}, []string{"reason"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_blocks_total",
			Help:      "Abuse blocks by traffic pattern.",
		}, []string{"pattern", "blacklisted"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(m.lookups, m.backendAttempts, m.backendDuration, m.decisions, m.blocks, m.httpRequests)

	return m
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer { return m.registry }

// Gatherer exposes the registry for tests and custom handlers.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GaugeFunc registers a gauge read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Lookup counts one lookup result.
func (m *Metrics) Lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

// BackendAttempt records one backend attempt.
func (m *Metrics) BackendAttempt(backend string, ok bool, d time.Duration) {
	if m == nil {
		return
	}

	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.backendAttempts.WithLabelValues(backend, outcome).Inc()
	m.backendDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// Decision counts one rate limiter decision.
func (m *Metrics) Decision(reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(reason).Inc()
}

// Block counts one abuse block.
func (m *Metrics) Block(pattern string, blacklisted bool) {
	if m == nil {
		return
	}

	label := "false"
	if blacklisted {
		label = "true"
	}
	m.blocks.WithLabelValues(pattern, label).Inc()
}

// HTTPRequest counts one served HTTP request.
func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
