package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"trading-agent/internal/account"
	"trading-agent/internal/broker"
	"trading-agent/internal/events"
	"trading-agent/internal/ledger"
	"trading-agent/internal/market"
	"trading-agent/internal/monitor"
	"trading-agent/internal/risk"
	"trading-agent/internal/strategy"
)

var cycleStart = time.Date(2026, 2, 2, 14, 30, 0, 0, time.UTC)

// trackingFeed wraps a feed and remembers the latest close per symbol,
// mirroring how the backtester wires the paper broker's mark prices.
type trackingFeed struct {
	inner market.Feed
	mu    sync.Mutex
	last  map[string]float64
}

func newTrackingFeed(inner market.Feed) *trackingFeed {
	return &trackingFeed{inner: inner, last: make(map[string]float64)}
}

func (f *trackingFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]market.Bar, error) {
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

func (f *trackingFeed) Price(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	px, ok := f.last[symbol]
	return px, ok
}

// stubStrategy returns canned signals and exits, for exercising engine
// paths without indicator arithmetic.
type stubStrategy struct {
	signals []strategy.Signal
	exits   map[string]string
	size    float64
	panics  bool
}

func (s *stubStrategy) ID() string   { return "stub-1" }
func (s *stubStrategy) Name() string { return "Stub" }

func (s *stubStrategy) GenerateSignals(data map[string][]market.Bar) ([]strategy.Signal, error) {
	if s.panics {
		panic("stub strategy exploded")
	}
	out := make([]strategy.Signal, len(s.signals))
	copy(out, s.signals)
	return out, nil
}

func (s *stubStrategy) ShouldExit(pos ledger.Position, bars []market.Bar) (bool, string) {
	reason, ok := s.exits[pos.Symbol]
	return ok, reason
}

func (s *stubStrategy) PositionSize(symbol string, accountValue, confidence float64) float64 {
	return s.size
}

func (s *stubStrategy) GetState() (json.RawMessage, error) { return json.RawMessage(`{}`), nil }
func (s *stubStrategy) SetState(data json.RawMessage) error { return nil }

// testRig bundles a trader with the collaborators tests assert on.
type testRig struct {
	trader  *Trader
	feed    *trackingFeed
	paper   *broker.Paper
	account *account.Manager
	ledger  *ledger.Manager
	risk    *risk.Manager
	bus     *events.Bus
	metrics *monitor.SystemMetrics
}

func testRiskConfig() risk.Config {
	return risk.Config{
		MaxOrderNotional:    1000,
		MaxDailyLoss:        500,
		MinConfidence:       0.65,
		StopLossPct:         0.02,
		OversizePolicy:      risk.PolicyClamp,
		UseDailyLossLimit:   true,
		UseOrderNotionalCap: true,
	}
}

func newTestRig(t *testing.T, feed market.Feed, strat strategy.Strategy, symbols []string, riskCfg risk.Config) *testRig {
	t.Helper()

	tracking := newTrackingFeed(feed)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	riskMgr, err := risk.NewManager(riskCfg)
	if err != nil {
		t.Fatalf("risk.NewManager: %v", err)
	}
	acct := account.NewManager(nil, 100000)
	book := ledger.NewManager(nil)
	paper := broker.NewPaper(100000, 0, 0, tracking.Price, bus)
	metrics := monitor.NewSystemMetrics()

	tr, err := NewTrader(TraderConfig{
		Symbols:       symbols,
		LookbackBars:  50,
		CycleInterval: time.Minute,
		Feed:          tracking,
		Strategy:      strat,
		Risk:          riskMgr,
		Ledger:        book,
		Account:       acct,
		Broker:        paper,
		Bus:           bus,
		Metrics:       metrics,
		Clock:         func() time.Time { return cycleStart },
	})
	if err != nil {
		t.Fatalf("NewTrader: %v", err)
	}

	return &testRig{
		trader:  tr,
		feed:    tracking,
		paper:   paper,
		account: acct,
		ledger:  book,
		risk:    riskMgr,
		bus:     bus,
		metrics: metrics,
	}
}

// rampSeries is 20 flat bars at 100 followed by a 5-bar ramp. The
// crossing bar (idx 20) trades on normal volume; the spike lands one
// bar later, so the armed entry must fire on bar 21, not re-test the
// cross.
func rampSeries() map[string][]market.Bar {
	bars := make([]market.Bar, 25)
	for i := range bars {
		px := 100.0
		if i >= 20 {
			px = 100.0 + float64(i-19)
		}
		vol := 1000.0
		if i == 21 {
			vol = 2500.0
		}
		bars[i] = market.Bar{
			Timestamp: cycleStart.Add(time.Duration(i) * time.Minute),
			Open:      px, High: px, Low: px, Close: px,
			Volume: vol,
		}
	}
	return map[string][]market.Bar{"AAPL": bars}
}

func newSMA(t *testing.T) *strategy.SMACross {
	t.Helper()
	s, err := strategy.NewSMACross("sma-test", strategy.SMAParams{
		ShortWindow:     5,
		LongWindow:      20,
		VolumeThreshold: 1.8,
	})
	if err != nil {
		t.Fatalf("NewSMACross: %v", err)
	}
	return s
}

func TestTraderRampEntry(t *testing.T) {
	hist := market.NewHistFeed(rampSeries())
	rig := newTestRig(t, hist, newSMA(t), []string{"AAPL"}, testRiskConfig())
	ctx := context.Background()

	for i := 0; i < hist.Len(); i++ {
		rig.trader.RunCycle(ctx)
	}

	if got := rig.trader.Cycle(); got != 25 {
		t.Fatalf("Cycle() = %d, expected 25", got)
	}
	if got := rig.trader.State(); got != StateIdle {
		t.Fatalf("State() = %v, expected IDLE", got)
	}
	if got, _ := rig.paper.Fills(); got != 1 {
		t.Fatalf("paper fills = %d, expected exactly 1 entry", got)
	}

	pos, ok := rig.ledger.Get("AAPL")
	if !ok {
		t.Fatal("expected an open AAPL position after the ramp")
	}
	// The spike bar closes at 102; zero slippage fills at the mark.
	if pos.EntryPrice != 102 {
		t.Fatalf("EntryPrice = %v, expected 102", pos.EntryPrice)
	}
	wantShares := 1000.0 / 102.0
	if math.Abs(pos.Shares-wantShares) > 1e-9 {
		t.Fatalf("Shares = %v, expected %v", pos.Shares, wantShares)
	}
	if pos.CurrentPrice != 105 {
		t.Fatalf("CurrentPrice = %v, expected final close 105", pos.CurrentPrice)
	}

	acct := rig.account.Snapshot()
	if math.Abs(acct.Cash-99000) > 1e-6 {
		t.Fatalf("Cash = %v, expected 99000", acct.Cash)
	}
	wantValue := 99000 + 105*wantShares
	if math.Abs(acct.AccountValue-wantValue) > 1e-6 {
		t.Fatalf("AccountValue = %v, expected %v", acct.AccountValue, wantValue)
	}

	snap := rig.trader.Snapshot()
	if snap.Cycle != 25 {
		t.Fatalf("snapshot cycle = %d, expected 25", snap.Cycle)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("snapshot positions = %d, expected 1", len(snap.Positions))
	}
	if snap.KillReason != "" {
		t.Fatalf("snapshot kill reason = %q, expected empty", snap.KillReason)
	}

	m := rig.metrics.GetSnapshot()
	if m.Cycles != 25 || m.Signals != 1 || m.Approves != 1 || m.OrdersFilled != 1 {
		t.Fatalf("metrics = cycles %d signals %d approves %d filled %d, expected 25/1/1/1",
			m.Cycles, m.Signals, m.Approves, m.OrdersFilled)
	}
}

func TestTraderStopLossRoundTrip(t *testing.T) {
	bars := make([]market.Bar, 24)
	for i := range bars {
		px, vol := 100.0, 1000.0
		switch {
		case i == 20:
			px, vol = 101.0, 2500.0 // cross and spike on the same bar
		case i == 21:
			px = 98.9 // through the 2% stop from 101
		case i > 21:
			px = 99.0
		}
		bars[i] = market.Bar{
			Timestamp: cycleStart.Add(time.Duration(i) * time.Minute),
			Open:      px, High: px, Low: px, Close: px,
			Volume: vol,
		}
	}
	hist := market.NewHistFeed(map[string][]market.Bar{"NVDA": bars})
	rig := newTestRig(t, hist, newSMA(t), []string{"NVDA"}, testRiskConfig())
	ctx := context.Background()

	for i := 0; i < hist.Len(); i++ {
		rig.trader.RunCycle(ctx)
	}

	if got := rig.ledger.Len(); got != 0 {
		t.Fatalf("open positions = %d, expected stop loss to flatten", got)
	}
	if got, _ := rig.paper.Fills(); got != 2 {
		t.Fatalf("paper fills = %d, expected entry + exit", got)
	}

	// Entry 1000 notional at 101, exit at 98.9.
	qty := 1000.0 / 101.0
	wantPnL := (98.9 - 101.0) * qty
	acct := rig.account.Snapshot()
	if math.Abs(acct.RealizedPnLToday-wantPnL) > 1e-6 {
		t.Fatalf("RealizedPnLToday = %v, expected %v", acct.RealizedPnLToday, wantPnL)
	}
	wantCash := 100000.0 - 1000.0 + 98.9*qty
	if math.Abs(acct.Cash-wantCash) > 1e-6 {
		t.Fatalf("Cash = %v, expected %v", acct.Cash, wantCash)
	}
	if !acct.TradingEnabled {
		t.Fatal("a small realized loss must not disable trading")
	}
}

func TestTraderKillSwitch(t *testing.T) {
	hist := market.NewHistFeed(rampSeries())
	rig := newTestRig(t, hist, newSMA(t), []string{"AAPL"}, testRiskConfig())
	ctx := context.Background()

	killCh, cancel := rig.bus.Subscribe(events.EventKillSwitch, 4)
	defer cancel()

	// Run through the entry, then pull the switch.
	for i := 0; i < 22; i++ {
		rig.trader.RunCycle(ctx)
	}
	if got, _ := rig.paper.Fills(); got != 1 {
		t.Fatalf("fills before kill = %d, expected 1", got)
	}
	rig.trader.Kill("manual stop")

	if got := rig.trader.State(); got != StateKilled {
		t.Fatalf("State() = %v, expected KILLED", got)
	}
	if got := rig.trader.KillReason(); got != "manual stop" {
		t.Fatalf("KillReason() = %q, expected %q", got, "manual stop")
	}
	if rig.account.TradingEnabled() {
		t.Fatal("kill switch must disable trading")
	}

	// Remaining cycles still fetch and mark, never trade.
	for i := 22; i < hist.Len(); i++ {
		rig.trader.RunCycle(ctx)
	}
	if got := rig.trader.Cycle(); got != 25 {
		t.Fatalf("Cycle() = %d, expected marking cycles to continue", got)
	}
	if got, _ := rig.paper.Fills(); got != 1 {
		t.Fatalf("fills after kill = %d, positions must not be liquidated", got)
	}
	pos, ok := rig.ledger.Get("AAPL")
	if !ok {
		t.Fatal("position should survive the kill switch")
	}
	if pos.CurrentPrice != 105 {
		t.Fatalf("CurrentPrice = %v, expected marks to keep flowing after kill", pos.CurrentPrice)
	}
	if snap := rig.trader.Snapshot(); snap.State != "KILLED" {
		t.Fatalf("snapshot state = %q, expected KILLED", snap.State)
	}

	// Second kill is a no-op; the first reason wins.
	rig.trader.Kill("second attempt")
	if got := rig.trader.KillReason(); got != "manual stop" {
		t.Fatalf("KillReason() after double kill = %q, expected %q", got, "manual stop")
	}

	select {
	case msg := <-killCh:
		if msg != "manual stop" {
			t.Fatalf("kill event = %v, expected reason payload", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a kill_switch event")
	}
	select {
	case msg := <-killCh:
		t.Fatalf("unexpected second kill event: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

type failFeed struct {
	failures int
	inner    market.Feed
}

func (f *failFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]market.Bar, error) {
	if f.failures > 0 {
		f.failures--
		return nil, market.ErrDataUnavailable
	}
	return f.inner.FetchBars(ctx, symbols, lookback)
}

func TestTraderDataFailureThenRecovery(t *testing.T) {
	hist := market.NewHistFeed(rampSeries())
	feed := &failFeed{failures: 2, inner: hist}
	rig := newTestRig(t, feed, newSMA(t), []string{"AAPL"}, testRiskConfig())
	ctx := context.Background()

	// Two failing cycles, then the full replay.
	total := 2 + hist.Len()
	for i := 0; i < total; i++ {
		rig.trader.RunCycle(ctx)
	}

	m := rig.metrics.GetSnapshot()
	if m.DataErrors != 2 {
		t.Fatalf("DataErrors = %d, expected 2", m.DataErrors)
	}
	if m.Cycles != uint64(total) {
		t.Fatalf("Cycles = %d, expected %d", m.Cycles, total)
	}
	// The replay still completes: the ramp entry goes through.
	if got, _ := rig.paper.Fills(); got != 1 {
		t.Fatalf("fills = %d, expected recovery to trade normally", got)
	}
	if snap := rig.trader.Snapshot(); snap.Cycle != uint64(total) {
		t.Fatalf("snapshot cycle = %d, failed cycles must still publish", snap.Cycle)
	}
}

func TestTraderBackoffDoubles(t *testing.T) {
	feed := &failFeed{failures: 1000}
	rig := newTestRig(t, feed, newSMA(t), []string{"AAPL"}, testRiskConfig())
	ctx := context.Background()

	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		80 * time.Second, 160 * time.Second, 300 * time.Second, 300 * time.Second,
	}
	for i, w := range want {
		rig.trader.RunCycle(ctx)
		if rig.trader.backoff != w {
			t.Fatalf("backoff after failure %d = %v, expected %v", i+1, rig.trader.backoff, w)
		}
	}
}

// staticFeed returns the same window every cycle, with bar timestamps
// advancing so strategies treat each fetch as a new bar.
type staticFeed struct {
	symbol string
	price  float64
	calls  int
}

func (f *staticFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]market.Bar, error) {
	f.calls++
	bars := make([]market.Bar, 21)
	for i := range bars {
		bars[i] = market.Bar{
			Timestamp: cycleStart.Add(time.Duration(f.calls+i) * time.Minute),
			Open:      f.price, High: f.price, Low: f.price, Close: f.price,
			Volume: 1000,
		}
	}
	return map[string][]market.Bar{f.symbol: bars}, nil
}

func TestTraderDuplicateEntryRejected(t *testing.T) {
	stub := &stubStrategy{
		signals: []strategy.Signal{{
			StrategyID: "stub-1", Symbol: "NVDA", Action: strategy.ActionBuy,
			Confidence: 0.9, Reason: "canned",
		}},
		size: 500,
	}
	rig := newTestRig(t, &staticFeed{symbol: "NVDA", price: 100}, stub, []string{"NVDA"}, testRiskConfig())
	ctx := context.Background()

	rig.trader.RunCycle(ctx)
	rig.trader.RunCycle(ctx)

	if got, _ := rig.paper.Fills(); got != 1 {
		t.Fatalf("fills = %d, expected the duplicate to be rejected", got)
	}
	if got := rig.ledger.Len(); got != 1 {
		t.Fatalf("positions = %d, expected 1", got)
	}
	m := rig.metrics.GetSnapshot()
	if m.Approves != 1 || m.Rejects != 1 {
		t.Fatalf("approves/rejects = %d/%d, expected 1/1", m.Approves, m.Rejects)
	}
}

func TestTraderLowConfidenceDropped(t *testing.T) {
	stub := &stubStrategy{
		signals: []strategy.Signal{{
			StrategyID: "stub-1", Symbol: "NVDA", Action: strategy.ActionBuy,
			Confidence: 0.3, Reason: "weak",
		}},
		size: 500,
	}
	rig := newTestRig(t, &staticFeed{symbol: "NVDA", price: 100}, stub, []string{"NVDA"}, testRiskConfig())

	rig.trader.RunCycle(context.Background())

	m := rig.metrics.GetSnapshot()
	if m.Signals != 1 {
		t.Fatalf("Signals = %d, expected the drop to still be counted", m.Signals)
	}
	if m.OrdersSubmitted != 0 {
		t.Fatalf("OrdersSubmitted = %d, low confidence must not reach the broker", m.OrdersSubmitted)
	}
	if got, _ := rig.paper.Fills(); got != 0 {
		t.Fatalf("fills = %d, expected 0", got)
	}
}

func TestTraderDailyLossHalt(t *testing.T) {
	stub := &stubStrategy{
		signals: []strategy.Signal{{
			StrategyID: "stub-1", Symbol: "NVDA", Action: strategy.ActionBuy,
			Confidence: 0.9, Reason: "canned",
		}},
		size: 500,
	}
	rig := newTestRig(t, &staticFeed{symbol: "NVDA", price: 100}, stub, []string{"NVDA"}, testRiskConfig())
	ctx := context.Background()

	alerts, cancel := rig.bus.Subscribe(events.EventRiskAlert, 4)
	defer cancel()

	// Yesterday went badly.
	rig.account.RecordRealized(ctx, -600)

	rig.trader.RunCycle(ctx)

	if rig.account.TradingEnabled() {
		t.Fatal("breaching the daily loss limit must halt trading")
	}
	if got, _ := rig.paper.Fills(); got != 0 {
		t.Fatalf("fills = %d, expected 0", got)
	}

	select {
	case msg := <-alerts:
		s, ok := msg.(string)
		if !ok || !strings.Contains(s, "daily loss") {
			t.Fatalf("alert = %v, expected a daily loss message", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a risk_alert for the halt")
	}

	// Once halted, everything is rejected with the disabled code.
	rig.trader.RunCycle(ctx)
	m := rig.metrics.GetSnapshot()
	if m.Rejects != 2 {
		t.Fatalf("Rejects = %d, expected both cycles rejected", m.Rejects)
	}
}

func TestTraderHaltBlocksExits(t *testing.T) {
	stub := &stubStrategy{
		signals: []strategy.Signal{{
			StrategyID: "stub-1", Symbol: "NVDA", Action: strategy.ActionBuy,
			Confidence: 0.9, Reason: "canned",
		}},
		size: 500,
	}
	rig := newTestRig(t, &staticFeed{symbol: "NVDA", price: 100}, stub, []string{"NVDA"}, testRiskConfig())
	ctx := context.Background()

	rig.trader.RunCycle(ctx)
	if got := rig.ledger.Len(); got != 1 {
		t.Fatalf("positions = %d, expected the entry to fill", got)
	}

	rig.account.Disable("operator halt")
	stub.signals = nil
	stub.exits = map[string]string{"NVDA": "stop loss"}

	rig.trader.RunCycle(ctx)

	// A disabled account rejects even the exit; the position stays.
	if got := rig.ledger.Len(); got != 1 {
		t.Fatalf("positions = %d, disabled account must not submit exits", got)
	}
	if got, _ := rig.paper.Fills(); got != 1 {
		t.Fatalf("fills = %d, expected only the original entry", got)
	}
}

func TestTraderExitFlow(t *testing.T) {
	stub := &stubStrategy{
		signals: []strategy.Signal{{
			StrategyID: "stub-1", Symbol: "NVDA", Action: strategy.ActionBuy,
			Confidence: 0.9, Reason: "canned",
		}},
		size: 500,
	}
	rig := newTestRig(t, &staticFeed{symbol: "NVDA", price: 100}, stub, []string{"NVDA"}, testRiskConfig())
	ctx := context.Background()

	changes, cancel := rig.bus.Subscribe(events.EventPositionChange, 8)
	defer cancel()

	rig.trader.RunCycle(ctx)
	stub.signals = nil
	stub.exits = map[string]string{"NVDA": "strategy exit"}
	rig.trader.RunCycle(ctx)

	if got := rig.ledger.Len(); got != 0 {
		t.Fatalf("positions = %d, expected the exit to flatten", got)
	}
	if got, _ := rig.paper.Fills(); got != 2 {
		t.Fatalf("fills = %d, expected entry and exit", got)
	}
	// Flat tape: entry and exit both at 100, so realized PnL is zero.
	acct := rig.account.Snapshot()
	if math.Abs(acct.RealizedPnLToday) > 1e-9 {
		t.Fatalf("RealizedPnLToday = %v, expected 0 on a flat tape", acct.RealizedPnLToday)
	}
	if math.Abs(acct.Cash-100000) > 1e-6 {
		t.Fatalf("Cash = %v, expected the round trip to restore it", acct.Cash)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-changes:
		case <-time.After(time.Second):
			t.Fatalf("expected 2 position_change events, got %d", i)
		}
	}
}

func TestTraderPanicContained(t *testing.T) {
	stub := &stubStrategy{panics: true}
	rig := newTestRig(t, &staticFeed{symbol: "NVDA", price: 100}, stub, []string{"NVDA"}, testRiskConfig())
	ctx := context.Background()

	rig.trader.RunCycle(ctx) // must not propagate

	m := rig.metrics.GetSnapshot()
	if m.Panics != 1 {
		t.Fatalf("Panics = %d, expected 1", m.Panics)
	}

	stub.panics = false
	stub.signals = []strategy.Signal{{
		StrategyID: "stub-1", Symbol: "NVDA", Action: strategy.ActionBuy,
		Confidence: 0.9, Reason: "recovered",
	}}
	stub.size = 500
	rig.trader.RunCycle(ctx)

	if got, _ := rig.paper.Fills(); got != 1 {
		t.Fatalf("fills = %d, expected trading to resume after a panic", got)
	}
	if got := rig.trader.State(); got != StateIdle {
		t.Fatalf("State() = %v, expected IDLE", got)
	}
}

func TestTraderMarketClosedGate(t *testing.T) {
	stub := &stubStrategy{
		signals: []strategy.Signal{{
			StrategyID: "stub-1", Symbol: "NVDA", Action: strategy.ActionBuy,
			Confidence: 0.9, Reason: "canned",
		}},
		size: 500,
	}

	tracking := newTrackingFeed(&staticFeed{symbol: "NVDA", price: 100})
	riskMgr, err := risk.NewManager(testRiskConfig())
	if err != nil {
		t.Fatalf("risk.NewManager: %v", err)
	}
	acct := account.NewManager(nil, 100000)
	book := ledger.NewManager(nil)
	paper := broker.NewPaper(100000, 0, 0, tracking.Price, nil)
	metrics := monitor.NewSystemMetrics()

	tr, err := NewTrader(TraderConfig{
		Symbols:      []string{"NVDA"},
		LookbackBars: 50,
		Feed:         tracking,
		Strategy:     stub,
		Risk:         riskMgr,
		Ledger:       book,
		Account:      acct,
		Broker:       paper,
		Metrics:      metrics,
		MarketOpen:   func(ctx context.Context) bool { return false },
		Clock:        func() time.Time { return cycleStart },
	})
	if err != nil {
		t.Fatalf("NewTrader: %v", err)
	}

	tr.RunCycle(context.Background())

	if got, _ := paper.Fills(); got != 0 {
		t.Fatalf("fills = %d, closed market must not trade", got)
	}
	if m := metrics.GetSnapshot(); m.Signals != 0 {
		t.Fatalf("Signals = %d, evaluation must be skipped entirely", m.Signals)
	}
	if snap := tr.Snapshot(); snap.Cycle != 1 {
		t.Fatalf("snapshot cycle = %d, marking must still publish", snap.Cycle)
	}
}

func TestTraderInvariantAborts(t *testing.T) {
	rig := newTestRig(t, &staticFeed{symbol: "NVDA", price: 100}, &stubStrategy{size: 500}, []string{"NVDA"}, testRiskConfig())
	ctx := context.Background()

	// Prime the mark prices, then force the book into a state where a
	// filled buy cannot be recorded.
	rig.trader.RunCycle(ctx)
	if err := rig.ledger.Open(ctx, "NVDA", 5, 100, cycleStart); err != nil {
		t.Fatalf("Open: %v", err)
	}

	order := broker.Order{
		ID: "dup-1", Symbol: "NVDA", Side: broker.SideBuy,
		Type: broker.TypeMarket, Notional: 500, CreatedAt: cycleStart,
	}
	err := rig.trader.submit(ctx, order, "sig-1", "canned", nil)

	var inv *ledger.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("submit err = %v, expected an InvariantError", err)
	}
	if inv.Op != "open" || inv.Symbol != "NVDA" {
		t.Fatalf("InvariantError = %+v, expected open/NVDA", inv)
	}
}

func TestNewTraderValidation(t *testing.T) {
	feed := &staticFeed{symbol: "NVDA", price: 100}
	riskMgr, err := risk.NewManager(testRiskConfig())
	if err != nil {
		t.Fatalf("risk.NewManager: %v", err)
	}
	base := TraderConfig{
		Symbols:  []string{"NVDA"},
		Feed:     feed,
		Strategy: &stubStrategy{},
		Risk:     riskMgr,
		Ledger:   ledger.NewManager(nil),
		Account:  account.NewManager(nil, 1000),
		Broker:   broker.NewPaper(1000, 0, 0, func(string) (float64, bool) { return 0, false }, nil),
	}

	if _, err := NewTrader(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	broken := base
	broken.Feed = nil
	if _, err := NewTrader(broken); err == nil {
		t.Fatal("expected an error for a missing feed")
	}
	broken = base
	broken.Broker = nil
	if _, err := NewTrader(broken); err == nil {
		t.Fatal("expected an error for a missing broker")
	}
	broken = base
	broken.Symbols = nil
	if _, err := NewTrader(broken); err == nil {
		t.Fatal("expected an error for an empty symbol set")
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateFetchingData, "FETCHING_DATA"},
		{StateEvaluating, "EVALUATING"},
		{StateSubmittingOrders, "SUBMITTING_ORDERS"},
		{StateAwaitingFills, "AWAITING_FILLS"},
		{StateKilled, "KILLED"},
		{State(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Fatalf("State(%d).String() = %q, expected %q", tc.state, got, tc.want)
		}
	}
}
