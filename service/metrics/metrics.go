package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	bookings         *prometheus.CounterVec
	quotaDecisions   *prometheus.CounterVec
	sideEffects      *prometheus.CounterVec
	calls            *prometheus.CounterVec
	callDuration     prometheus.Histogram
	providerRequests *prometheus.CounterVec
	signalingClients prometheus.Gauge
	signalingEvents  *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	registry         prometheus.Gatherer
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appointment_bookings_total",
			Help: "Booking attempts by result",
		}, []string{"result"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_decisions_total",
			Help: "Quota reservations by resource kind and result",
		}, []string{"kind", "result"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "side_effects_total",
			Help: "Best-effort side effects by name and outcome",
		}, []string{"name", "status"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_events_total",
			Help: "Call lifecycle transitions",
		}, []string{"event"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "call_duration_seconds",
			Help:    "Duration of ended calls",
			Buckets: []float64{30, 60, 300, 600, 900, 1800, 3600},
		}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtc_token_requests_total",
			Help: "Join credential requests to the RTC provider by result",
		}, []string{"result"}),
		signalingClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signaling_connected_clients",
			Help: "Users with a live signaling connection",
		}),
		signalingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_events_total",
			Help: "Relayed signaling events by type and delivery",
		}, []string{"event", "delivered"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Scheduled job runs by job and result",
		}, []string{"job", "result"}),
		registry: reg,
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.bookings, m.quotaDecisions, m.sideEffects,
		m.calls, m.callDuration, m.providerRequests, m.signalingClients, m.signalingEvents, m.jobRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveQuota(kind, result string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveSideEffect(name, status string) {
	if m == nil {
		return
	}
	m.sideEffects.WithLabelValues(name, status).Inc()
}

func (m *Metrics) ObserveCall(event string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveCallDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveProvider(result string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) SetSignalingClients(n int) {
	if m == nil {
		return
	}
	m.signalingClients.Set(float64(n))
}

func (m *Metrics) ObserveSignal(event string, delivered bool) {
	if m == nil {
		return
	}
	m.signalingEvents.WithLabelValues(event, strconv.FormatBool(delivered)).Inc()
}

func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		m.httpRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}
