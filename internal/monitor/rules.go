package monitor

import (
	"fmt"
	"sync"

	"trading-agent/internal/events"
)

// Rules evaluates per-cycle health thresholds and publishes risk_alert
// events. Each rule alerts once per breach episode and re-arms when the
// condition clears, so a stuck condition does not page every cycle.
type Rules struct {
	MaxDrawdownPct  float64 // alert when peak-to-trough account drop exceeds this percent
	MaxDataFailures int     // alert after this many consecutive fetch failures
	Bus             *events.Bus

	mu             sync.Mutex
	peak           float64
	drawdownFired  bool
	dataFailures   int
	failuresFired  bool
}

// RecordAccountValue feeds the latest account value into the drawdown
// rule. The peak only ratchets up.
func (r *Rules) RecordAccountValue(v float64) {
	if r.MaxDrawdownPct <= 0 || v <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if v > r.peak {
		r.peak = v
	}
	if r.peak == 0 {
		return
	}
	drawdown := (r.peak - v) / r.peak * 100
	if drawdown >= r.MaxDrawdownPct {
		if !r.drawdownFired {
			r.drawdownFired = true
			r.publish(fmt.Sprintf("drawdown %.1f%% exceeds limit %.1f%% (peak %.2f, now %.2f)",
				drawdown, r.MaxDrawdownPct, r.peak, v))
		}
	} else {
		r.drawdownFired = false
	}
}

// RecordDataFailure counts a failed market data fetch.
func (r *Rules) RecordDataFailure() {
	if r.MaxDataFailures <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dataFailures++
	if r.dataFailures >= r.MaxDataFailures && !r.failuresFired {
		r.failuresFired = true
		r.publish(fmt.Sprintf("%d consecutive market data failures", r.dataFailures))
	}
}

// RecordDataSuccess resets the failure streak.
func (r *Rules) RecordDataSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataFailures = 0
	r.failuresFired = false
}

func (r *Rules) publish(msg string) {
	if r.Bus != nil {
		r.Bus.Publish(events.EventRiskAlert, msg)
	}
}
