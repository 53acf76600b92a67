package monitor

import (
	"strings"
	"testing"
	"time"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(1000)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}

	s := h.Stats()
	if s.Count != 100 {
		t.Fatalf("Count = %d, expected 100", s.Count)
	}
	if s.Min != 1 || s.Max != 100 {
		t.Errorf("min/max = %v/%v, expected 1/100", s.Min, s.Max)
	}
	if s.Avg != 50.5 {
		t.Errorf("Avg = %v, expected 50.5", s.Avg)
	}
	if s.P50 != 51 {
		t.Errorf("P50 = %v, expected 51", s.P50)
	}
	if s.P95 != 96 {
		t.Errorf("P95 = %v, expected 96", s.P95)
	}
	if s.P99 != 100 {
		t.Errorf("P99 = %v, expected 100", s.P99)
	}
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(10)
	for i := 1; i <= 20; i++ {
		h.Record(float64(i))
	}

	s := h.Stats()
	if s.Count != 10 {
		t.Fatalf("Count = %d, expected window size 10", s.Count)
	}
	if s.Min != 11 {
		t.Errorf("Min = %v, expected oldest samples evicted", s.Min)
	}
}

func TestLatencyHistogramCaching(t *testing.T) {
	h := NewLatencyHistogram(10)
	h.Record(5)

	first := h.Stats()
	second := h.Stats()
	if first != second {
		t.Error("repeated Stats without new samples diverged")
	}

	h.Record(50)
	third := h.Stats()
	if third.Max != 50 || third.Count != 2 {
		t.Errorf("stats stale after new sample: %+v", third)
	}
}

func TestLatencyHistogramEmpty(t *testing.T) {
	h := NewLatencyHistogram(10)
	if s := h.Stats(); s.Count != 0 || s.P99 != 0 {
		t.Errorf("empty stats = %+v", s)
	}
}

func TestCountersInSnapshot(t *testing.T) {
	m := NewSystemMetrics()
	for i := 0; i < 3; i++ {
		m.IncrementCycles()
	}
	m.IncrementSignals()
	m.IncrementApproves()
	m.IncrementRejects()
	m.IncrementOrdersSubmitted()
	m.IncrementOrdersFilled()
	m.IncrementDataErrors()
	m.IncrementBrokerErrors()
	m.IncrementPanics()

	snap := m.GetSnapshot()
	if snap.Cycles != 3 {
		t.Errorf("Cycles = %d, expected 3", snap.Cycles)
	}
	if snap.Signals != 1 || snap.Approves != 1 || snap.Rejects != 1 {
		t.Errorf("signal counters = %d/%d/%d", snap.Signals, snap.Approves, snap.Rejects)
	}
	if snap.OrdersSubmitted != 1 || snap.OrdersFilled != 1 {
		t.Errorf("order counters = %d/%d", snap.OrdersSubmitted, snap.OrdersFilled)
	}
	if snap.DataErrors != 1 || snap.BrokerErrors != 1 || snap.Panics != 1 {
		t.Errorf("error counters = %d/%d/%d", snap.DataErrors, snap.BrokerErrors, snap.Panics)
	}
	if snap.GoroutineCount <= 0 {
		t.Error("GoroutineCount not populated")
	}
}

func TestPrometheusText(t *testing.T) {
	m := NewSystemMetrics()
	m.IncrementCycles()
	m.IncrementCycles()
	m.CycleLatency.RecordDuration(10 * time.Millisecond)

	text := m.PrometheusText()
	for _, want := range []string{
		"agent_cycles_total 2",
		"# TYPE agent_cycles_total counter",
		"agent_cycle_latency_ms{quantile=\"0.95\"}",
		"agent_cycle_latency_ms_count 1",
		"# TYPE agent_goroutines gauge",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q:\n%s", want, text)
		}
	}
}

func TestTimerRecords(t *testing.T) {
	h := NewLatencyHistogram(10)
	timer := NewTimer(h)
	time.Sleep(time.Millisecond)
	if elapsed := timer.Stop(); elapsed <= 0 {
		t.Errorf("elapsed = %v", elapsed)
	}
	if s := h.Stats(); s.Count != 1 {
		t.Errorf("Count = %d, expected 1", s.Count)
	}
}
