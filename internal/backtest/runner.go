// Package backtest replays historical bars through the live trading
// cycle. The replay drives the exact engine code path used in
// production, so every risk check, fill rule and bookkeeping step is
// the one the live agent runs.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-agent/internal/account"
	"trading-agent/internal/broker"
	"trading-agent/internal/engine"
	"trading-agent/internal/ledger"
	"trading-agent/internal/market"
	"trading-agent/internal/risk"
	"trading-agent/internal/strategy"
	"trading-agent/pkg/db"
)

// Config describes one replay. Series and Strategy are required; zero
// values elsewhere fall back to the stock setup.
type Config struct {
	Series   map[string][]market.Bar
	Strategy strategy.Strategy

	RiskConfig    risk.Config // zero value = risk.DefaultConfig()
	StartCash     float64     // default 100000
	SlippageBps   float64     // default 0, keeps replays exact
	FeeRate       float64     // default 0
	LookbackBars  int         // default 100
	MinConfidence float64     // default 0.7

	// DB, when set, receives the backtest_runs summary row.
	DB *db.Database
}

// Runner executes replays. Each Run builds a fresh book, account and
// broker and resets the strategy to its initial state, so repeated runs
// over the same bars are bit-for-bit identical.
type Runner struct {
	cfg      Config
	pristine json.RawMessage
}

// NewRunner validates the replay configuration and snapshots the
// strategy's initial state.
func NewRunner(cfg Config) (*Runner, error) {
	if len(cfg.Series) == 0 {
		return nil, fmt.Errorf("backtest: no bar series supplied")
	}
	for sym, bars := range cfg.Series {
		if len(bars) == 0 {
			return nil, fmt.Errorf("backtest: empty series for %s", sym)
		}
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("backtest: strategy is required")
	}
	if cfg.StartCash == 0 {
		cfg.StartCash = 100000
	}
	if cfg.StartCash < 0 {
		return nil, fmt.Errorf("backtest: start cash must be positive, got %v", cfg.StartCash)
	}
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 100
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.RiskConfig == (risk.Config{}) {
		cfg.RiskConfig = risk.DefaultConfig()
	}
	pristine, err := cfg.Strategy.GetState()
	if err != nil {
		return nil, fmt.Errorf("backtest: snapshot strategy state: %w", err)
	}
	return &Runner{cfg: cfg, pristine: pristine}, nil
}

// Run replays the configured series and returns the summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	cfg := r.cfg
	if err := cfg.Strategy.SetState(r.pristine); err != nil {
		return nil, fmt.Errorf("backtest: reset strategy state: %w", err)
	}

	feed := newReplayFeed(market.NewHistFeed(cfg.Series))
	recorder := newRecordingBroker(broker.NewPaper(cfg.StartCash, cfg.SlippageBps, cfg.FeeRate, feed.Price, nil))

	riskMgr, err := risk.NewManager(cfg.RiskConfig)
	if err != nil {
		return nil, err
	}
	acct := account.NewManager(nil, cfg.StartCash)
	book := ledger.NewManager(nil)

	symbols := make([]string, 0, len(cfg.Series))
	firstBar := time.Time{}
	for sym, bars := range cfg.Series {
		symbols = append(symbols, sym)
		if firstBar.IsZero() || bars[0].Timestamp.Before(firstBar) {
			firstBar = bars[0].Timestamp
		}
	}
	sort.Strings(symbols)

	barClock := func() time.Time {
		if t := feed.Now(); !t.IsZero() {
			return t
		}
		return firstBar
	}
	// Daily stats and the loss limit key on the replayed bar date, not
	// the wall clock, so multi-day series roll over exactly as live.
	acct.Clock = barClock

	trader, err := engine.NewTrader(engine.TraderConfig{
		Symbols:       symbols,
		LookbackBars:  cfg.LookbackBars,
		CycleInterval: time.Minute, // unused, cycles are driven directly
		MinConfidence: cfg.MinConfidence,
		Feed:          feed,
		Strategy:      cfg.Strategy,
		Risk:          riskMgr,
		Ledger:        book,
		Account:       acct,
		Broker:        recorder,
		Clock:         barClock,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🔄 Backtest: %s, %d symbols, %d bars", cfg.Strategy.Name(), len(symbols), feed.Len())

	summary := &Summary{
		StrategyID: cfg.Strategy.ID(),
		Symbols:    symbols,
		Bars:       feed.Len(),
		StartValue: cfg.StartCash,
	}

	peak := cfg.StartCash
	var (
		curDate    string
		dayStart   float64
		dayTrades  int
		prevEquity = cfg.StartCash
	)
	closeDay := func(completed int) {
		if curDate == "" {
			return
		}
		summary.Daily = append(summary.Daily, DayResult{
			Date:     curDate,
			PnL:      prevEquity - dayStart,
			Trades:   completed - dayTrades,
			EndValue: prevEquity,
		})
	}

	for i := 0; i < feed.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		completedBefore := recorder.CompletedCount()
		trader.RunCycle(ctx)

		equity := acct.Snapshot().AccountValue
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > summary.MaxDrawdownPct {
				summary.MaxDrawdownPct = dd
			}
		}

		// A date flip means this cycle's bar opened a new session; the
		// previous day closes with the equity and trades it ended on.
		date := feed.Now().Format("2006-01-02")
		if date != curDate {
			closeDay(completedBefore)
			curDate = date
			dayStart = prevEquity
			dayTrades = completedBefore
		}
		prevEquity = equity
	}
	closeDay(recorder.CompletedCount())

	summary.EndValue = prevEquity
	summary.TotalReturn = summary.EndValue - summary.StartValue
	if summary.StartValue > 0 {
		summary.TotalReturnPct = summary.TotalReturn / summary.StartValue * 100
	}
	summary.OpenAtEnd = book.Len()
	summary.Trades = recorder.Completed()
	r.fillTradeStats(summary)

	log.Printf("✓ Backtest complete: return %+.2f%%, %d trades, max drawdown %.2f%%",
		summary.TotalReturnPct, len(summary.Trades), summary.MaxDrawdownPct)

	if cfg.DB != nil {
		if err := r.persist(ctx, summary); err != nil {
			log.Printf("⚠️ Backtest run persist failed: %v", err)
		}
	}
	return summary, nil
}

func (r *Runner) fillTradeStats(s *Summary) {
	var grossWin, grossLoss float64
	for _, tr := range s.Trades {
		if tr.PnL >= 0 {
			s.Wins++
			grossWin += tr.PnL
		} else {
			s.Losses++
			grossLoss += -tr.PnL
		}
	}
	if n := len(s.Trades); n > 0 {
		s.WinRate = float64(s.Wins) / float64(n) * 100
	}
	if s.Wins > 0 {
		s.AvgWin = grossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = -grossLoss / float64(s.Losses)
		s.ProfitFactor = grossWin / grossLoss
	}
}

func (r *Runner) persist(ctx context.Context, s *Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	start, end := "", ""
	if len(s.Daily) > 0 {
		start = s.Daily[0].Date
		end = s.Daily[len(s.Daily)-1].Date
	}
	return r.cfg.DB.CreateBacktestRun(ctx, db.BacktestRun{
		ID:         uuid.NewString(),
		StrategyID: s.StrategyID,
		StartDate:  start,
		EndDate:    end,
		Symbols:    strings.Join(s.Symbols, ","),
		Summary:    string(payload),
	})
}

// replayFeed steps the historical feed while tracking the latest close
// and bar time, which the paper broker and the trader's clock read.
type replayFeed struct {
	inner *market.HistFeed

	mu    sync.Mutex
	marks map[string]float64
	now   time.Time
}

func newReplayFeed(inner *market.HistFeed) *replayFeed {
	return &replayFeed{inner: inner, marks: make(map[string]float64)}
}

func (f *replayFeed) Len() int { return f.inner.Len() }

func (f *replayFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]market.Bar, error) {
	data, err := f.inner.FetchBars(ctx, symbols, lookback)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	for sym, bars := range data {
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		f.marks[sym] = last.Close
		if last.Timestamp.After(f.now) {
			f.now = last.Timestamp
		}
	}
	f.mu.Unlock()
	return data, nil
}

// Price resolves the mark for the bar being replayed, so fills land on
// the same close the strategy just evaluated.
func (f *replayFeed) Price(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	px, ok := f.marks[symbol]
	return px, ok
}

// Now is the timestamp of the newest bar replayed so far.
func (f *replayFeed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// recordingBroker wraps the paper broker and pairs entry fills with the
// exits that flatten them, producing the round-trip trade list the
// summary is built from.
type recordingBroker struct {
	inner broker.Broker

	mu   sync.Mutex
	open map[string]TradeRecord
	done []TradeRecord
}

func newRecordingBroker(inner broker.Broker) *recordingBroker {
	return &recordingBroker{inner: inner, open: make(map[string]TradeRecord)}
}

func (r *recordingBroker) Name() string { return r.inner.Name() }

func (r *recordingBroker) SubmitOrder(ctx context.Context, o broker.Order) (broker.Result, error) {
	res, err := r.inner.SubmitOrder(ctx, o)
	if err != nil || !res.Filled() {
		return res, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, hasOpen := r.open[o.Symbol]
	switch {
	case o.Side == broker.SideBuy && !hasOpen:
		r.open[o.Symbol] = TradeRecord{
			Symbol:     o.Symbol,
			Qty:        res.FilledQty,
			EntryPrice: res.FillPrice,
			EntryTime:  res.FilledAt,
		}
	case o.Side == broker.SideSell && hasOpen:
		entry.ExitPrice = res.FillPrice
		entry.ExitTime = res.FilledAt
		entry.PnL = (res.FillPrice - entry.EntryPrice) * entry.Qty
		entry.Reason = o.SignalReason
		r.done = append(r.done, entry)
		delete(r.open, o.Symbol)
	default:
		log.Printf("backtest: unpaired %s fill for %s ignored by the recorder", o.Side, o.Symbol)
	}
	return res, err
}

// Completed returns a copy of the finished round trips, in exit order.
func (r *recordingBroker) Completed() []TradeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TradeRecord, len(r.done))
	copy(out, r.done)
	return out
}

// CompletedCount avoids copying when only the count is needed.
func (r *recordingBroker) CompletedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}
