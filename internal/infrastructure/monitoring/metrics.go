package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Metrics holds all Prometheus metrics. It implements bridge.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Dispatch metrics
	RequestsDispatched *prometheus.CounterVec
	RequestsResolved   *prometheus.CounterVec
	DispatchLatency    *prometheus.HistogramVec
	Pending            prometheus.Gauge
	Violations         *prometheus.CounterVec
	DeliveryErrors     prometheus.Counter

	// Bridge state
	Mounts    prometheus.Gauge
	OpenFiles prometheus.Gauge
	Watchers  prometheus.Gauge

	// Change notifications
	Notifications *prometheus.CounterVec
	EventsDropped prometheus.Counter

	// Provider socket metrics
	ProviderConnected prometheus.Gauge
	WSConnections     prometheus.Gauge
	WSMessages        *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON stats endpoint
type Snapshot struct {
	HTTPRequests   int64   `json:"httpRequests"`
	HTTPErrors     int64   `json:"httpErrors"`
	Dispatched     int64   `json:"dispatched"`
	Succeeded      int64   `json:"succeeded"`
	Failed         int64   `json:"failed"`
	Aborted        int64   `json:"aborted"`
	Violations     int64   `json:"violations"`
	Pending        int     `json:"pending"`
	Mounts         int     `json:"mounts"`
	OpenFiles      int     `json:"openFiles"`
	Watchers       int     `json:"watchers"`
	Notifications  int64   `json:"notifications"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	AvgLatencySecs float64 `json:"avgLatencySeconds"`

	latencySum float64
	latencyN   int64
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fsbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		ResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fsbridge_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		RequestsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsbridge_requests_dispatched_total",
				Help: "Requests dispatched to the provider",
			},
			[]string{"kind"},
		),
		RequestsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsbridge_requests_resolved_total",
				Help: "Requests that reached a terminal state",
			},
			[]string{"kind", "state"},
		),
		DispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fsbridge_request_duration_seconds",
				Help:    "Time from dispatch to terminal state",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"kind"},
		),
		Pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsbridge_requests_pending",
				Help: "Requests waiting for a provider reply",
			},
		),
		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsbridge_protocol_violations_total",
				Help: "Provider replies that broke the request protocol",
			},
			[]string{"reason"},
		),
		DeliveryErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsbridge_delivery_errors_total",
				Help: "Requests that could not be handed to the provider",
			},
		),

		Mounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsbridge_mounts",
				Help: "Mounted file systems",
			},
		),
		OpenFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsbridge_open_files",
				Help: "Open file handles, confirmed or not",
			},
		),
		Watchers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsbridge_watchers",
				Help: "Registered watchers",
			},
		),

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsbridge_notifications_total",
				Help: "Change notifications accepted from the provider",
			},
			[]string{"delivered"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsbridge_change_events_dropped_total",
				Help: "Change events dropped because a subscriber was slow",
			},
		),

		ProviderConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsbridge_provider_connected",
				Help: "1 while a provider is attached",
			},
		),
		WSConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsbridge_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsbridge_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fsbridge_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	m.registry.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.ResponseSize,
		m.RequestsDispatched, m.RequestsResolved, m.DispatchLatency, m.Pending, m.Violations, m.DeliveryErrors,
		m.Mounts, m.OpenFiles, m.Watchers,
		m.Notifications, m.EventsDropped,
		m.ProviderConnected, m.WSConnections, m.WSMessages,
		uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.HTTPRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.HTTPErrors++
	}
	m.mu.Unlock()
}

// Dispatched counts a request handed to the provider
func (m *Metrics) Dispatched(kind types.OperationKind) {
	m.RequestsDispatched.WithLabelValues(string(kind)).Inc()

	m.mu.Lock()
	m.snapshot.Dispatched++
	m.mu.Unlock()
}

// Finished records a request reaching a terminal state
func (m *Metrics) Finished(kind types.OperationKind, state dispatch.State, elapsed time.Duration) {
	m.RequestsResolved.WithLabelValues(string(kind), state.String()).Inc()
	m.DispatchLatency.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	m.mu.Lock()
	switch state {
	case dispatch.StateSucceeded:
		m.snapshot.Succeeded++
	case dispatch.StateFailed:
		m.snapshot.Failed++
	case dispatch.StateAborted:
		m.snapshot.Aborted++
	}
	m.snapshot.latencySum += elapsed.Seconds()
	m.snapshot.latencyN++
	m.mu.Unlock()
}

// Violation counts a provider protocol violation
func (m *Metrics) Violation(reason string) {
	m.Violations.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.Violations++
	m.mu.Unlock()
}

// SetGauges publishes the bridge's current sizes
func (m *Metrics) SetGauges(mounts, openFiles, watchers, pending int) {
	m.Mounts.Set(float64(mounts))
	m.OpenFiles.Set(float64(openFiles))
	m.Watchers.Set(float64(watchers))
	m.Pending.Set(float64(pending))

	m.mu.Lock()
	m.snapshot.Mounts = mounts
	m.snapshot.OpenFiles = openFiles
	m.snapshot.Watchers = watchers
	m.snapshot.Pending = pending
	m.mu.Unlock()
}

// Notification counts an accepted change notification
func (m *Metrics) Notification(delivered bool) {
	label := "false"
	if delivered {
		label = "true"
	}
	m.Notifications.WithLabelValues(label).Inc()

	m.mu.Lock()
	m.snapshot.Notifications++
	m.mu.Unlock()
}

// DeliveryFailed counts a request the provider transport refused
func (m *Metrics) DeliveryFailed() {
	m.DeliveryErrors.Inc()
}

// EventDropped counts a change event lost to a slow subscriber
func (m *Metrics) EventDropped() {
	m.EventsDropped.Inc()
}

// SetProviderConnected flips the provider gauge
func (m *Metrics) SetProviderConnected(connected bool) {
	if connected {
		m.ProviderConnected.Set(1)
		return
	}
	m.ProviderConnected.Set(0)
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns a copy of the JSON view
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	if s.latencyN > 0 {
		s.AvgLatencySecs = s.latencySum / float64(s.latencyN)
	}
	return s
}
