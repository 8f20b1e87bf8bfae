package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Watcher metrics
	LastProcessedLedger = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamwatch_last_processed_ledger",
			Help: "The last ledger sequence fully processed by the watcher",
		},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_events_processed_total",
			Help: "Total number of contract events processed by event type",
		},
		[]string{"event_type"},
	)

	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_decode_failures_total",
			Help: "Total number of events whose XDR payload failed to decode",
		},
		[]string{"kind"},
	)

	WatcherBackoffs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamwatch_watcher_backoffs_total",
			Help: "Total number of backoff sleeps after failed poll cycles",
		},
	)

	// Reconciler metrics
	ReconcileNoops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_reconcile_noops_total",
			Help: "Total number of lifecycle writes skipped for missing or invalid fields",
		},
		[]string{"operation", "reason"},
	)

	StreamsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamwatch_streams_created_total",
			Help: "Total number of stream records created",
		},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamwatch_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwatch_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwatch_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamwatch_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwatch_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func LastProcessedLedgerSet(ledger uint64) {
	LastProcessedLedger.Set(float64(ledger))
}

func EventProcessedInc(eventType string) {
	EventsProcessed.WithLabelValues(eventType).Inc()
}

func DecodeFailureInc(kind string) {
	DecodeFailures.WithLabelValues(kind).Inc()
}

func WatcherBackoffInc() {
	WatcherBackoffs.Inc()
}

func ReconcileNoopInc(operation, reason string) {
	ReconcileNoops.WithLabelValues(operation, reason).Inc()
}

func StreamCreatedInc() {
	StreamsCreated.Inc()
}

func ErrorInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
