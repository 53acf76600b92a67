package main

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-agent/internal/account"
	"trading-agent/internal/broker"
	"trading-agent/internal/engine"
	"trading-agent/internal/events"
	"trading-agent/internal/ledger"
	"trading-agent/internal/market"
	"trading-agent/internal/monitor"
	"trading-agent/internal/risk"
	"trading-agent/internal/strategy"
	"trading-agent/pkg/db"
)

// paper_demo runs the full trading loop against the mock feed and paper
// broker with an in-memory database. It does not touch any brokerage.
//
// Usage:
//   go run ./scripts/paper_demo
//
// It will:
//   1) Run 30 evaluation cycles on synthetic bars.
//   2) Print positions and the day's stats after each tenth cycle.
//   3) Trip the kill switch and show that further cycles are inert.

// trackedFeed remembers the latest close per symbol inside FetchBars so
// paper fills land on the bar the cycle just evaluated.
type trackedFeed struct {
	inner market.Feed
	mu    sync.Mutex
	last  map[string]float64
}

func (f *trackedFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]market.Bar, error) {
	data, err := f.inner.FetchBars(ctx, symbols, lookback)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	for sym, bars := range data {
		if px := market.LatestClose(bars); px > 0 {
			f.last[sym] = px
		}
	}
	f.mu.Unlock()
	return data, nil
}

func (f *trackedFeed) Price(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	px, ok := f.last[symbol]
	return px, ok
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("=== paper demo starting ===")

	ctx := context.Background()

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	symbols := []string{"AAPL", "MSFT"}

	acct := account.NewManager(database, 100000)
	book := ledger.NewManager(database)

	riskMgr, err := risk.NewManager(risk.DefaultConfig())
	if err != nil {
		log.Fatalf("risk: %v", err)
	}

	strat, err := strategy.NewSMACross("demo-sma", strategy.SMAParams{ShortWindow: 3, LongWindow: 8})
	if err != nil {
		log.Fatalf("strategy: %v", err)
	}

	feed := &trackedFeed{
		inner: &market.MockFeed{Symbols: symbols, Seed: 42, Step: 2.5},
		last:  make(map[string]float64),
	}

	venue := broker.NewPaper(100000, 0, 0, feed.Price, bus)

	trader, err := engine.NewTrader(engine.TraderConfig{
		Symbols:       symbols,
		LookbackBars:  30,
		CycleInterval: time.Second,
		MinConfidence: 0.5,
		Feed:          feed,
		Strategy:      strat,
		Risk:          riskMgr,
		Ledger:        book,
		Account:       acct,
		Broker:        venue,
		DB:            database,
		Bus:           bus,
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatalf("trader: %v", err)
	}

	for i := 1; i <= 30; i++ {
		trader.RunCycle(ctx)
		if i%10 == 0 {
			report(acct, book, i)
		}
	}

	log.Println("[SCENARIO] tripping the kill switch")
	trader.Kill("demo operator stop")
	trader.RunCycle(ctx)
	trader.RunCycle(ctx)
	log.Printf("state after kill: %s (reason: %s)", trader.State(), trader.KillReason())

	report(acct, book, 32)
	log.Println("=== paper demo complete ===")
}

func report(acct *account.Manager, book *ledger.Manager, cycle int) {
	st := acct.Snapshot()
	log.Printf("[cycle %d] value=%.2f cash=%.2f realized_today=%.2f trades=%d",
		cycle, st.AccountValue, st.Cash, st.RealizedPnLToday, st.TradesToday)
	for _, p := range book.Snapshot() {
		log.Printf("  position %s: %.4f @ %.2f (now %.2f, pnl %.2f)",
			p.Symbol, p.Shares, p.EntryPrice, p.CurrentPrice, p.PnL)
	}
}
