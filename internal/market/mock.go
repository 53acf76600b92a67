package market

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"trading-agent/internal/events"
)

// MockFeed synthesizes a random-walk bar series for local development and
// tests. Each FetchBars call advances every symbol by one bar. A fixed Seed
// makes the walk reproducible.
type MockFeed struct {
	Bus        *events.Bus // optional; Start publishes ticks when set
	Symbols    []string
	StartPrice float64
	Step       float64
	BaseVolume float64
	Interval   time.Duration // tick cadence for Start
	Seed       int64         // 0 = time-seeded

	mu   sync.Mutex
	rng  *rand.Rand
	bars map[string][]Bar
	now  time.Time
}

func (m *MockFeed) init() {
	if m.bars != nil {
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"AAPL"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.BaseVolume == 0 {
		m.BaseVolume = 1_000_000
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m.rng = rand.New(rand.NewSource(seed))
	m.bars = make(map[string][]Bar, len(m.Symbols))
	m.now = time.Now().Truncate(time.Minute)
	for _, sym := range m.Symbols {
		m.bars[sym] = []Bar{{
			Timestamp: m.now,
			Open:      m.StartPrice,
			High:      m.StartPrice,
			Low:       m.StartPrice,
			Close:     m.StartPrice,
			Volume:    m.BaseVolume,
		}}
	}
}

// FetchBars advances each requested symbol by one synthetic bar and returns
// the trailing window.
func (m *MockFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()

	if len(symbols) == 0 {
		symbols = m.Symbols
	}
	m.now = m.now.Add(time.Minute)

	out := make(map[string][]Bar, len(symbols))
	for _, sym := range symbols {
		series, ok := m.bars[sym]
		if !ok {
			series = []Bar{{Timestamp: m.now, Open: m.StartPrice, High: m.StartPrice,
				Low: m.StartPrice, Close: m.StartPrice, Volume: m.BaseVolume}}
		}
		prev := series[len(series)-1]
		next := m.nextBar(prev)
		series = append(series, next)
		if max := lookback * 2; max > 0 && len(series) > max {
			series = series[len(series)-max:]
		}
		m.bars[sym] = series

		window := series
		if lookback > 0 && len(window) > lookback {
			window = window[len(window)-lookback:]
		}
		cp := make([]Bar, len(window))
		copy(cp, window)
		out[sym] = cp
	}
	return out, nil
}

func (m *MockFeed) nextBar(prev Bar) Bar {
	// simple random walk
	close := prev.Close + (m.rng.Float64()*2-1)*m.Step
	if close < 1 {
		close = 1
	}
	high := close
	if prev.Close > high {
		high = prev.Close
	}
	low := close
	if prev.Close < low {
		low = prev.Close
	}
	volume := m.BaseVolume * (0.6 + m.rng.Float64()*0.8)
	return Bar{
		Timestamp: m.now,
		Open:      prev.Close,
		High:      high * (1 + m.rng.Float64()*0.001),
		Low:       low * (1 - m.rng.Float64()*0.001),
		Close:     close,
		Volume:    volume,
	}
}

// Start publishes synthetic price ticks on the bus between cycles so the
// websocket stream stays lively. Optional; FetchBars works without it.
func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("mock feed: bus not set, tick stream disabled")
		return
	}
	m.mu.Lock()
	m.init()
	interval := m.Interval
	m.mu.Unlock()
	if interval == 0 {
		interval = time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.mu.Lock()
				for _, sym := range m.Symbols {
					series := m.bars[sym]
					if len(series) == 0 {
						continue
					}
					last := series[len(series)-1].Close
					price := last + (m.rng.Float64()*2-1)*m.Step*0.25
					m.Bus.Publish(events.EventPriceTick, Tick{Symbol: sym, Price: price, At: time.Now()})
				}
				m.mu.Unlock()
			}
		}
	}()
}
