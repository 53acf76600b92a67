package monitor

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks engine health: lifecycle counters plus latency
// histograms for the cycle loop and broker round-trips. Counters are
// atomic so the single-threaded cycle loop and HTTP readers never
// contend.
type SystemMetrics struct {
	CycleLatency  *LatencyHistogram
	BrokerLatency *LatencyHistogram
	APILatency    *LatencyHistogram

	cycles          uint64
	signals         uint64
	approves        uint64
	rejects         uint64
	ordersSubmitted uint64
	ordersFilled    uint64
	ordersRejected  uint64
	dataErrors      uint64
	brokerErrors    uint64
	panics          uint64
	apiRequests     uint64
	apiErrors       uint64

	started time.Time
}

// NewSystemMetrics creates a metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		CycleLatency:  NewLatencyHistogram(1000),
		BrokerLatency: NewLatencyHistogram(1000),
		APILatency:    NewLatencyHistogram(1000),
		started:       time.Now(),
	}
}

func (m *SystemMetrics) IncrementCycles()          { atomic.AddUint64(&m.cycles, 1) }
func (m *SystemMetrics) IncrementSignals()         { atomic.AddUint64(&m.signals, 1) }
func (m *SystemMetrics) IncrementApproves()        { atomic.AddUint64(&m.approves, 1) }
func (m *SystemMetrics) IncrementRejects()         { atomic.AddUint64(&m.rejects, 1) }
func (m *SystemMetrics) IncrementOrdersSubmitted() { atomic.AddUint64(&m.ordersSubmitted, 1) }
func (m *SystemMetrics) IncrementOrdersFilled()    { atomic.AddUint64(&m.ordersFilled, 1) }
func (m *SystemMetrics) IncrementOrdersRejected()  { atomic.AddUint64(&m.ordersRejected, 1) }
func (m *SystemMetrics) IncrementDataErrors()      { atomic.AddUint64(&m.dataErrors, 1) }
func (m *SystemMetrics) IncrementBrokerErrors()    { atomic.AddUint64(&m.brokerErrors, 1) }
func (m *SystemMetrics) IncrementPanics()          { atomic.AddUint64(&m.panics, 1) }
func (m *SystemMetrics) IncrementAPI()             { atomic.AddUint64(&m.apiRequests, 1) }
func (m *SystemMetrics) IncrementAPIErrors()       { atomic.AddUint64(&m.apiErrors, 1) }

// MetricsSnapshot is a point-in-time view for the API and tests.
type MetricsSnapshot struct {
	CycleLatency    LatencyStats `json:"cycle_latency"`
	BrokerLatency   LatencyStats `json:"broker_latency"`
	APILatency      LatencyStats `json:"api_latency"`
	Cycles          uint64       `json:"cycles"`
	Signals         uint64       `json:"signals"`
	Approves        uint64       `json:"approves"`
	Rejects         uint64       `json:"rejects"`
	OrdersSubmitted uint64       `json:"orders_submitted"`
	OrdersFilled    uint64       `json:"orders_filled"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	DataErrors      uint64       `json:"data_errors"`
	BrokerErrors    uint64       `json:"broker_errors"`
	Panics          uint64       `json:"panics"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds   float64      `json:"uptime_seconds"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns the current metrics.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		CycleLatency:    m.CycleLatency.Stats(),
		BrokerLatency:   m.BrokerLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		Cycles:          atomic.LoadUint64(&m.cycles),
		Signals:         atomic.LoadUint64(&m.signals),
		Approves:        atomic.LoadUint64(&m.approves),
		Rejects:         atomic.LoadUint64(&m.rejects),
		OrdersSubmitted: atomic.LoadUint64(&m.ordersSubmitted),
		OrdersFilled:    atomic.LoadUint64(&m.ordersFilled),
		OrdersRejected:  atomic.LoadUint64(&m.ordersRejected),
		DataErrors:      atomic.LoadUint64(&m.dataErrors),
		BrokerErrors:    atomic.LoadUint64(&m.brokerErrors),
		Panics:          atomic.LoadUint64(&m.panics),
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		UptimeSeconds:   time.Since(m.started).Seconds(),
		Timestamp:       time.Now(),
	}
}

// PrometheusText renders the metrics in Prometheus exposition format
// under the agent_ prefix.
func (m *SystemMetrics) PrometheusText() string {
	snap := m.GetSnapshot()
	var b strings.Builder

	counter := func(name, help string, v uint64) {
		fmt.Fprintf(&b, "# HELP agent_%s %s\n# TYPE agent_%s counter\nagent_%s %d\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v float64) {
		fmt.Fprintf(&b, "# HELP agent_%s %s\n# TYPE agent_%s gauge\nagent_%s %g\n", name, help, name, name, v)
	}
	quantiles := func(name, help string, s LatencyStats) {
		fmt.Fprintf(&b, "# HELP agent_%s %s\n# TYPE agent_%s summary\n", name, help, name)
		fmt.Fprintf(&b, "agent_%s{quantile=\"0.5\"} %g\n", name, s.P50)
		fmt.Fprintf(&b, "agent_%s{quantile=\"0.95\"} %g\n", name, s.P95)
		fmt.Fprintf(&b, "agent_%s{quantile=\"0.99\"} %g\n", name, s.P99)
		fmt.Fprintf(&b, "agent_%s_count %d\n", name, s.Count)
	}

	counter("cycles_total", "Completed trading cycles.", snap.Cycles)
	counter("signals_total", "Strategy signals generated.", snap.Signals)
	counter("risk_approves_total", "Signals approved by the risk manager.", snap.Approves)
	counter("risk_rejects_total", "Signals rejected by the risk manager.", snap.Rejects)
	counter("orders_submitted_total", "Orders handed to the broker.", snap.OrdersSubmitted)
	counter("orders_filled_total", "Orders confirmed filled.", snap.OrdersFilled)
	counter("orders_rejected_total", "Orders the broker rejected.", snap.OrdersRejected)
	counter("data_errors_total", "Market data fetch failures.", snap.DataErrors)
	counter("broker_errors_total", "Broker submission failures.", snap.BrokerErrors)
	counter("panics_total", "Recovered cycle panics.", snap.Panics)
	counter("api_requests_total", "HTTP API requests served.", snap.APIRequests)
	counter("api_errors_total", "HTTP API requests answered 4xx/5xx.", snap.APIErrors)
	gauge("goroutines", "Live goroutines.", float64(snap.GoroutineCount))
	gauge("heap_alloc_bytes", "Heap bytes allocated.", float64(snap.HeapAlloc))
	gauge("uptime_seconds", "Seconds since start.", snap.UptimeSeconds)
	quantiles("cycle_latency_ms", "Trading cycle duration in milliseconds.", snap.CycleLatency)
	quantiles("broker_latency_ms", "Broker round-trip in milliseconds.", snap.BrokerLatency)
	quantiles("api_latency_ms", "HTTP request duration in milliseconds.", snap.APILatency)

	return b.String()
}

// LatencyHistogram keeps a sliding window of samples with lazily
// recomputed percentile stats, so frequent Record calls stay cheap and
// Stats only sorts when something changed.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// NewLatencyHistogram creates a sliding-window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a sample in milliseconds, evicting the oldest once the
// window is full.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts and records a duration.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns the cached window statistics, recomputing only when
// new samples arrived since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[min(int(float64(n)*0.95), n-1)],
		P99:   sorted[min(int(float64(n)*0.99), n-1)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// Timer measures one operation into a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer starts a timer recording into h on Stop.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
