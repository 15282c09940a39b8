package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the bot and its ops endpoint.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	updatesTotal     prometheus.Counter
	pollFailures     prometheus.Counter
	commandsTotal    *prometheus.CounterVec
	registryPersists prometheus.Counter
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_http_requests_total",
		Help: "HTTP requests to the ops endpoint by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_http_request_duration_seconds",
		Help:    "Ops endpoint request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	updates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_updates_total",
		Help: "Inbound updates received from the messaging API.",
	})
	pollFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_poll_failures_total",
		Help: "Failed or malformed long-poll cycles.",
	})
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_commands_total",
		Help: "Dispatched commands by name and outcome.",
	}, []string{"command", "outcome"})
	persists := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_registry_persists_total",
		Help: "Atomic writes of the user registry.",
	})
	registry.MustRegister(requests, duration, updates, pollFailures, commands, persists)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		updatesTotal:     updates,
		pollFailures:     pollFailures,
		commandsTotal:    commands,
		registryPersists: persists,
	}
}

// ObserveUpdate counts one inbound update.
func (m *Metrics) ObserveUpdate() {
	if m != nil {
		m.updatesTotal.Inc()
	}
}

// ObservePollFailure counts one failed poll cycle.
func (m *Metrics) ObservePollFailure() {
	if m != nil {
		m.pollFailures.Inc()
	}
}

// ObserveCommand counts one dispatched command with its outcome ("ok" or
// "error").
func (m *Metrics) ObserveCommand(command, outcome string) {
	if m != nil {
		m.commandsTotal.WithLabelValues(command, outcome).Inc()
	}
}

// RegistryPersistHook returns a callback suitable for rbac.Service.OnPersist.
func (m *Metrics) RegistryPersistHook() func() {
	return func() {
		if m != nil {
			m.registryPersists.Inc()
		}
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for the ops endpoint.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for registering custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
