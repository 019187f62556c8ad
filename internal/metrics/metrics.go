package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Metrics wraps the Prometheus collectors exposed on /metrics.
type Metrics struct {
	connectionsTotal    prometheus.Counter
	connectionsActive   prometheus.Gauge
	connectionDuration  prometheus.Histogram
	connectionsClosed   prometheus.Counter
	connectionsErrors   prometheus.Counter

	messagesPublished prometheus.Counter
	messagesFanoutOK  prometheus.Counter
	messagesFanoutErr prometheus.Counter
	messageSize       prometheus.Histogram
	messagesPerSecond prometheus.Gauge

	rateLimitDenied *prometheus.CounterVec

	errorsTotal   prometheus.Counter
	errorsByType  *prometheus.CounterVec
	lastErrorTime prometheus.Gauge

	goroutinesCount prometheus.Gauge
	memoryUsage     prometheus.Gauge
	cpuUsage        prometheus.Gauge

	startTime      time.Time
	mu             sync.RWMutex
	clientsCount   int64
	publishedCount atomic.Int64
}

// NewMetrics registers all collectors against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courier_connections_active",
			Help: "Number of currently active WebSocket connections",
		}),
		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_connection_duration_seconds",
			Help:    "Duration of WebSocket connections",
			Buckets: prometheus.DefBuckets,
		}),
		connectionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_connections_closed_total",
			Help: "Total number of closed WebSocket connections",
		}),
		connectionsErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_connections_errors_total",
			Help: "Total number of WebSocket connection errors",
		}),

		messagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_messages_published_total",
			Help: "Total number of publish requests accepted",
		}),
		messagesFanoutOK: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_messages_fanout_success_total",
			Help: "Total number of successful per-subscriber sends",
		}),
		messagesFanoutErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_messages_fanout_failure_total",
			Help: "Total number of failed per-subscriber sends (subscriber evicted)",
		}),
		messageSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_message_size_bytes",
			Help:    "Size of published message payloads in bytes",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 100000},
		}),
		messagesPerSecond: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courier_messages_published_per_second",
			Help: "Current publish rate",
		}),

		rateLimitDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_rate_limit_denied_total",
			Help: "Total number of requests denied by the rate limiter, by surface",
		}, []string{"surface"}),

		errorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_errors_total",
			Help: "Total number of errors",
		}),
		errorsByType: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_errors_by_type_total",
			Help: "Total number of errors by type",
		}, []string{"type"}),
		lastErrorTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courier_last_error_timestamp",
			Help: "Unix timestamp of the last recorded error",
		}),

		goroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courier_goroutines_count",
			Help: "Number of goroutines",
		}),
		memoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courier_memory_usage_bytes",
			Help: "Go heap memory allocated, in bytes",
		}),
		cpuUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courier_cpu_usage_percent",
			Help: "System-wide CPU usage percentage",
		}),
	}
}

func (m *Metrics) IncrementConnections() {
	m.connectionsTotal.Inc()
	m.mu.Lock()
	m.clientsCount++
	m.mu.Unlock()
	m.connectionsActive.Inc()
}

func (m *Metrics) DecrementConnections() {
	m.connectionsClosed.Inc()
	m.mu.Lock()
	m.clientsCount--
	m.mu.Unlock()
	m.connectionsActive.Dec()
}

func (m *Metrics) RecordConnectionError() {
	m.connectionsErrors.Inc()
	m.RecordError("connection")
}

func (m *Metrics) RecordConnectionDuration(d time.Duration) {
	m.connectionDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordPublish(sizeBytes int) {
	m.messagesPublished.Inc()
	m.messageSize.Observe(float64(sizeBytes))
	m.publishedCount.Add(1)
}

// PublishedCount reports the running total of published messages, used to
// derive the messages-per-second gauge without scraping the Prometheus
// counter back out.
func (m *Metrics) PublishedCount() int64 {
	return m.publishedCount.Load()
}

func (m *Metrics) RecordFanoutSuccess() { m.messagesFanoutOK.Inc() }
func (m *Metrics) RecordFanoutFailure() { m.messagesFanoutErr.Inc() }

func (m *Metrics) UpdateMessagesPerSecond(rate float64) {
	m.messagesPerSecond.Set(rate)
}

func (m *Metrics) RecordRateLimitDenied(surface string) {
	m.rateLimitDenied.WithLabelValues(surface).Inc()
}

func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Inc()
	m.errorsByType.WithLabelValues(errorType).Inc()
	m.lastErrorTime.SetToCurrentTime()
}

func (m *Metrics) UpdateGoroutinesCount(count int) { m.goroutinesCount.Set(float64(count)) }
func (m *Metrics) UpdateMemoryUsage(bytes uint64)  { m.memoryUsage.Set(float64(bytes)) }
func (m *Metrics) UpdateCPUUsage(percent float64)  { m.cpuUsage.Set(percent) }

func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clientsCount
}

func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// MessageRateTracker derives a messages-per-second gauge from successive
// counter snapshots taken at each update interval.
type MessageRateTracker struct {
	mu          sync.RWMutex
	lastCount   float64
	lastTime    time.Time
	currentRate float64
}

func NewMessageRateTracker() *MessageRateTracker {
	return &MessageRateTracker{lastTime: time.Now()}
}

func (t *MessageRateTracker) Update(currentCount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	delta := now.Sub(t.lastTime).Seconds()
	if delta > 0 {
		t.currentRate = (currentCount - t.lastCount) / delta
		t.lastCount = currentCount
		t.lastTime = now
	}
}

func (t *MessageRateTracker) GetRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentRate
}

// ResourceSampler tracks system-wide CPU usage and the process's heap between
// ticks of runSystemMetricsLoop, feeding the cpuUsage/memoryUsage gauges
// on Metrics. gopsutil's cpu.Percent call blocks for its sampling window,
// so Sample is meant to be called from a dedicated ticker goroutine, never
// from a request path.
type ResourceSampler struct {
	mu         sync.RWMutex
	cpuPercent float64
	heap       runtime.MemStats
}

// NewResourceSampler returns a sampler primed with one CPU reading so the
// first Sample call doesn't report a zero.
func NewResourceSampler() *ResourceSampler {
	rs := &ResourceSampler{}
	rs.sampleCPU()
	return rs
}

// Sample refreshes both the heap and CPU readings.
func (rs *ResourceSampler) Sample() {
	rs.sampleHeap()
	rs.sampleCPU()
}

func (rs *ResourceSampler) sampleHeap() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	runtime.ReadMemStats(&rs.heap)
}

// sampleCPU blends the latest overall-CPU reading into a running average
// so a single busy tick doesn't make the gauge jump and fall back down a
// second later.
func (rs *ResourceSampler) sampleCPU() {
	percents, err := cpu.Percent(time.Second, false)
	if err != nil || len(percents) == 0 {
		return
	}
	current := percents[0]

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.cpuPercent == 0 {
		rs.cpuPercent = current
		return
	}
	const smoothing = 0.3
	rs.cpuPercent = smoothing*current + (1-smoothing)*rs.cpuPercent
}

// HeapMB returns the process's current heap allocation in megabytes.
func (rs *ResourceSampler) HeapMB() float64 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return float64(rs.heap.HeapAlloc) / 1024 / 1024
}

// CPUPercent returns the smoothed system-wide CPU usage percentage.
func (rs *ResourceSampler) CPUPercent() float64 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.cpuPercent
}
