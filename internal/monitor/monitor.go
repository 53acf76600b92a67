package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-agent/internal/events"
)

// Monitor forwards risk_alert events to an alert function. The default
// sink just logs; deployments swap in webhook or pager sinks via
// AlertFn without touching the engine.
type Monitor struct {
	Bus     *events.Bus
	AlertFn func(string)
}

// Start subscribes to risk alerts and forwards them until ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("monitor: no bus configured; skipping")
		return
	}
	if m.AlertFn == nil {
		m.AlertFn = func(msg string) { log.Printf("⚠️ ALERT %s", msg) }
	}

	stream, unsub := m.Bus.Subscribe(events.EventRiskAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.AlertFn(formatAlert(msg))
			}
		}
	}()
}

func formatAlert(msg any) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
