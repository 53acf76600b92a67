package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trading-agent/internal/account"
	"trading-agent/internal/broker"
	"trading-agent/internal/events"
	"trading-agent/internal/ledger"
	"trading-agent/internal/market"
	"trading-agent/internal/monitor"
	"trading-agent/internal/risk"
	"trading-agent/internal/strategy"
	"trading-agent/pkg/db"
)

const (
	backoffInitial = 5 * time.Second
	backoffMax     = 300 * time.Second
)

// TraderConfig wires the Trader's collaborators. Feed, Strategy, Risk,
// Ledger, Account and Broker are required; the rest degrade to no-ops
// when nil.
type TraderConfig struct {
	Symbols       []string
	LookbackBars  int
	CycleInterval time.Duration
	MinConfidence float64

	Feed     market.Feed
	Strategy strategy.Strategy
	Risk     *risk.Manager
	Ledger   *ledger.Manager
	Account  *account.Manager
	Broker   broker.Broker

	Journal *broker.Journal
	DB      *db.Database
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Rules   *monitor.Rules

	// MarketOpen gates evaluation; nil means always open.
	MarketOpen func(context.Context) bool
	// Clock supplies cycle timestamps; replays inject bar time here.
	Clock func() time.Time
}

// Trader owns the trading loop: fetch, mark, evaluate, submit, publish.
// Exactly one cycle runs at a time; everything observers need comes out
// through the published Snapshot, never by poking at loop internals.
type Trader struct {
	cfg TraderConfig

	state      atomic.Int32
	cycleNo    atomic.Uint64
	snapshot   atomic.Value // Snapshot
	killReason atomic.Value // string

	backoff      time.Duration
	closedLogged bool
}

// NewTrader validates the wiring and returns a Trader in IDLE.
func NewTrader(cfg TraderConfig) (*Trader, error) {
	switch {
	case cfg.Feed == nil:
		return nil, fmt.Errorf("engine: feed is required")
	case cfg.Strategy == nil:
		return nil, fmt.Errorf("engine: strategy is required")
	case cfg.Risk == nil:
		return nil, fmt.Errorf("engine: risk manager is required")
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("engine: ledger is required")
	case cfg.Account == nil:
		return nil, fmt.Errorf("engine: account manager is required")
	case cfg.Broker == nil:
		return nil, fmt.Errorf("engine: broker is required")
	case len(cfg.Symbols) == 0:
		return nil, fmt.Errorf("engine: no symbols configured")
	}
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 100
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	t := &Trader{cfg: cfg}
	t.killReason.Store("")
	t.snapshot.Store(Snapshot{State: StateIdle.String()})
	return t, nil
}

// State returns the current lifecycle state.
func (t *Trader) State() State {
	return State(t.state.Load())
}

// Cycle returns the number of completed cycles.
func (t *Trader) Cycle() uint64 {
	return t.cycleNo.Load()
}

// Snapshot returns the most recently published cycle snapshot.
func (t *Trader) Snapshot() Snapshot {
	return t.snapshot.Load().(Snapshot)
}

// KillReason returns the kill switch reason, empty while trading.
func (t *Trader) KillReason() string {
	return t.killReason.Load().(string)
}

// setState moves the lifecycle forward. KILLED is absorbing.
func (t *Trader) setState(s State) {
	for {
		cur := t.state.Load()
		if State(cur) == StateKilled {
			return
		}
		if t.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Kill flips the kill switch: trading stops for good, monitoring stays
// up. Positions are left as they are; closing them is a human decision.
func (t *Trader) Kill(reason string) {
	if State(t.state.Swap(int32(StateKilled))) == StateKilled {
		return
	}
	t.killReason.Store(reason)
	t.cfg.Account.Disable(reason)
	log.Printf("🛑 KILL SWITCH engaged: %s", reason)
	if t.cfg.Bus != nil {
		t.cfg.Bus.Publish(events.EventKillSwitch, reason)
	}
	t.publishSnapshot(t.cycleNo.Load(), nil)
}

// Run drives cycles until ctx is done. Data failures stretch the wait
// via exponential backoff; a healthy fetch snaps it back to the
// configured interval.
func (t *Trader) Run(ctx context.Context) {
	log.Printf("🚀 Engine started: %d symbols, cycle %s, broker %s",
		len(t.cfg.Symbols), t.cfg.CycleInterval, t.cfg.Broker.Name())

	for {
		wait := t.cfg.CycleInterval
		if t.backoff > 0 {
			wait = t.backoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("Engine stopped")
			return
		case <-timer.C:
		}
		t.RunCycle(ctx)
	}
}

// RunCycle executes one full cycle. The backtester calls it directly,
// once per replayed bar; Run calls it on a timer. Panics are contained
// to the cycle: the ledger and account keep their last consistent
// state and the next cycle proceeds.
func (t *Trader) RunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("💥 Cycle panic recovered: %v", r)
			if t.cfg.Metrics != nil {
				t.cfg.Metrics.IncrementPanics()
			}
			t.setState(StateIdle)
		}
	}()

	var timer *monitor.Timer
	if t.cfg.Metrics != nil {
		timer = monitor.NewTimer(t.cfg.Metrics.CycleLatency)
		defer func() {
			timer.Stop()
			t.cfg.Metrics.IncrementCycles()
		}()
	}

	cycle := t.cycleNo.Add(1)
	killed := t.State() == StateKilled
	t.setState(StateFetchingData)

	data, ok := t.fetch(ctx, cycle)
	if !ok {
		t.setState(StateIdle)
		t.publishSnapshot(cycle, nil)
		return
	}

	t.markPositions(ctx, data)

	// A killed engine keeps fetching and marking so dashboards stay
	// truthful, but never evaluates or submits again.
	if killed {
		t.publishSnapshot(cycle, nil)
		return
	}

	if t.cfg.MarketOpen != nil && !t.cfg.MarketOpen(ctx) {
		if !t.closedLogged {
			log.Println("Market closed; holding until next session")
			t.closedLogged = true
		}
		t.setState(StateIdle)
		t.publishSnapshot(cycle, nil)
		return
	}
	t.closedLogged = false

	t.setState(StateEvaluating)
	signals := t.evaluate(ctx, data)

	t.setState(StateIdle)
	acct := t.cfg.Account.Snapshot()
	if t.cfg.Rules != nil {
		t.cfg.Rules.RecordAccountValue(acct.AccountValue)
	}
	t.publishSnapshot(cycle, signals)
}

// fetch pulls bars for the symbol set. Total failure counts toward the
// backoff; missing individual symbols are logged and skipped.
func (t *Trader) fetch(ctx context.Context, cycle uint64) (map[string][]market.Bar, bool) {
	data, err := t.cfg.Feed.FetchBars(ctx, t.cfg.Symbols, t.cfg.LookbackBars)
	if err != nil {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncrementDataErrors()
		}
		if t.cfg.Rules != nil {
			t.cfg.Rules.RecordDataFailure()
		}
		t.backoff = nextBackoff(t.backoff)
		log.Printf("⚠️ Market data unavailable (cycle %d): %v; next attempt in %s", cycle, err, t.backoff)
		return nil, false
	}

	populated := 0
	for _, sym := range t.cfg.Symbols {
		if len(data[sym]) == 0 {
			log.Printf("⚠️ No bars for %s this cycle", sym)
			continue
		}
		populated++
	}
	if populated == 0 {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncrementDataErrors()
		}
		if t.cfg.Rules != nil {
			t.cfg.Rules.RecordDataFailure()
		}
		t.backoff = nextBackoff(t.backoff)
		log.Printf("⚠️ Feed returned no bars at all (cycle %d); next attempt in %s", cycle, t.backoff)
		return nil, false
	}

	t.backoff = 0
	if t.cfg.Rules != nil {
		t.cfg.Rules.RecordDataSuccess()
	}
	return data, true
}

// markPositions refreshes marks and the account's view of the book.
func (t *Trader) markPositions(ctx context.Context, data map[string][]market.Bar) {
	prices := make(map[string]float64, len(data))
	for sym, bars := range data {
		if px := market.LatestClose(bars); px > 0 {
			prices[sym] = px
			if t.cfg.Bus != nil {
				t.cfg.Bus.Publish(events.EventPriceTick, market.Tick{
					Symbol: sym, Price: px, At: t.cfg.Clock(),
				})
			}
		}
	}
	t.cfg.Ledger.MarkAll(ctx, prices)
	t.cfg.Account.SetMarkToMarket(ctx, t.cfg.Account.Cash(), t.cfg.Ledger.MarketValue())
}

// evaluate runs exits first, then entries, submitting whatever the risk
// manager approves. Returns the entry signals evaluated this cycle for
// the snapshot.
func (t *Trader) evaluate(ctx context.Context, data map[string][]market.Bar) []strategy.Signal {
	// Exits: positions are checked in symbol order against their own
	// bars; a triggered exit closes the full position.
	for _, pos := range t.cfg.Ledger.Snapshot() {
		bars := data[pos.Symbol]
		if len(bars) == 0 {
			continue
		}
		exit, reason := t.cfg.Strategy.ShouldExit(pos, bars)
		if !exit {
			continue
		}
		if err := t.submitExit(ctx, pos, reason); err != nil {
			var inv *ledger.InvariantError
			if errors.As(err, &inv) {
				t.abortCycle(inv)
				return nil
			}
		}
	}

	signals, err := t.cfg.Strategy.GenerateSignals(data)
	if err != nil {
		log.Printf("⚠️ Strategy error: %v", err)
		return nil
	}

	minConf := t.cfg.MinConfidence
	if cfg := t.cfg.Risk.GetConfig(); cfg.MinConfidence > 0 {
		minConf = cfg.MinConfidence
	}

	evaluated := make([]strategy.Signal, 0, len(signals))
	for _, sig := range signals {
		if sig.Action == strategy.ActionHold {
			continue
		}
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncrementSignals()
		}
		evaluated = append(evaluated, sig)

		if sig.Confidence < minConf {
			log.Printf("Signal dropped: %s %s confidence %.2f below %.2f",
				sig.Action, sig.Symbol, sig.Confidence, minConf)
			t.persistSignal(ctx, sig, "LOW_CONFIDENCE", "confidence below minimum", false)
			continue
		}

		if err := t.submitEntry(ctx, sig); err != nil {
			var inv *ledger.InvariantError
			if errors.As(err, &inv) {
				t.abortCycle(inv)
				return evaluated
			}
		}
	}
	return evaluated
}

// submitEntry sizes, risk-checks and submits a buy signal.
func (t *Trader) submitEntry(ctx context.Context, sig strategy.Signal) error {
	acct := t.cfg.Account.Snapshot()

	notional := sig.Notional
	if notional <= 0 {
		notional = t.cfg.Strategy.PositionSize(sig.Symbol, acct.AccountValue, sig.Confidence)
	}

	pos, open := t.cfg.Ledger.Get(sig.Symbol)
	decision := t.cfg.Risk.Approve(
		risk.SignalInput{Symbol: sig.Symbol, Action: sig.Action, Notional: notional, Confidence: sig.Confidence},
		risk.PositionState{Open: open, Shares: pos.Shares, EntryPrice: pos.EntryPrice},
		risk.AccountView{TradingEnabled: acct.TradingEnabled, RealizedPnLToday: acct.RealizedPnLToday, AccountValue: acct.AccountValue},
	)
	sigID := t.persistSignal(ctx, sig, decision.Code, decision.Reason, decision.Allowed)
	t.publishSignal(sig, decision)

	if decision.DisableTrading {
		t.cfg.Account.Disable(decision.Reason)
		if t.cfg.Bus != nil {
			t.cfg.Bus.Publish(events.EventRiskAlert, decision.Reason)
		}
	}
	if !decision.Allowed {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncrementRejects()
		}
		log.Printf("🛑 Signal rejected [%s]: %s %s: %s", decision.Code, sig.Action, sig.Symbol, decision.Reason)
		return nil
	}
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.IncrementApproves()
	}

	order := broker.Order{
		ID:           uuid.NewString(),
		Symbol:       sig.Symbol,
		Side:         broker.SideBuy,
		Type:         broker.TypeMarket,
		Notional:     decision.Notional,
		SignalReason: sig.Reason,
		CreatedAt:    t.cfg.Clock(),
	}
	return t.submit(ctx, order, sigID, sig.Reason, nil)
}

// submitExit risk-checks and submits a full-position close.
func (t *Trader) submitExit(ctx context.Context, pos ledger.Position, reason string) error {
	acct := t.cfg.Account.Snapshot()

	// Exits pass through risk as sells; the notional cap does not
	// apply, but a halted account still blocks them.
	decision := t.cfg.Risk.Approve(
		risk.SignalInput{Symbol: pos.Symbol, Action: strategy.ActionSell, Confidence: 1},
		risk.PositionState{Open: true, Shares: pos.Shares, EntryPrice: pos.EntryPrice},
		risk.AccountView{TradingEnabled: acct.TradingEnabled, RealizedPnLToday: acct.RealizedPnLToday, AccountValue: acct.AccountValue},
	)

	exitSig := strategy.Signal{
		StrategyID: t.cfg.Strategy.ID(),
		Symbol:     pos.Symbol,
		Action:     strategy.ActionSell,
		Confidence: 1,
		Reason:     reason,
		At:         t.cfg.Clock(),
	}
	sigID := t.persistSignal(ctx, exitSig, decision.Code, decision.Reason, decision.Allowed)
	t.publishSignal(exitSig, decision)

	if !decision.Allowed {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncrementRejects()
		}
		log.Printf("🛑 Exit rejected [%s]: %s: %s", decision.Code, pos.Symbol, decision.Reason)
		return nil
	}
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.IncrementApproves()
	}

	side := broker.SideSell
	if pos.Shares < 0 {
		side = broker.SideBuy
	}
	order := broker.Order{
		ID:           uuid.NewString(),
		Symbol:       pos.Symbol,
		Side:         side,
		Type:         broker.TypeMarket,
		Qty:          math.Abs(pos.Shares),
		SignalReason: reason,
		CreatedAt:    t.cfg.Clock(),
	}
	return t.submit(ctx, order, sigID, reason, &pos)
}

// submit journals, executes and resolves one order. A fill mutates the
// ledger and account; exitPos marks the order as a close.
func (t *Trader) submit(ctx context.Context, order broker.Order, sigID, reason string, exitPos *ledger.Position) error {
	t.setState(StateSubmittingOrders)

	if t.cfg.Journal != nil {
		if err := t.cfg.Journal.Approved(order); err != nil {
			log.Printf("⚠️ Journal write failed: %v", err)
		}
	}
	if t.cfg.Bus != nil {
		t.cfg.Bus.Publish(events.EventOrderSubmitted, struct {
			OrderID  string  `json:"order_id"`
			Symbol   string  `json:"symbol"`
			Side     string  `json:"side"`
			Notional float64 `json:"notional"`
			Qty      float64 `json:"qty"`
		}{order.ID, order.Symbol, order.Side, order.Notional, order.Qty})
	}

	var brokerTimer *monitor.Timer
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.IncrementOrdersSubmitted()
		brokerTimer = monitor.NewTimer(t.cfg.Metrics.BrokerLatency)
	}
	res, err := t.cfg.Broker.SubmitOrder(ctx, order)
	if brokerTimer != nil {
		brokerTimer.Stop()
	}
	if t.cfg.Journal != nil {
		t.cfg.Journal.Resolved(order, res)
	}

	if err != nil {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncrementBrokerErrors()
			t.cfg.Metrics.IncrementOrdersRejected()
		}
		log.Printf("❌ Order failed: %s %s: %v", order.Side, order.Symbol, err)
		t.persistOrder(ctx, order, sigID, res, "rejected")
		if t.cfg.Bus != nil {
			t.cfg.Bus.Publish(events.EventOrderRejected, struct {
				OrderID string `json:"order_id"`
				Symbol  string `json:"symbol"`
				Side    string `json:"side"`
				Detail  string `json:"detail"`
			}{order.ID, order.Symbol, order.Side, res.Detail})
		}
		return nil
	}

	t.setState(StateAwaitingFills)

	if !res.Filled() {
		log.Printf("⚠️ Order accepted but unfilled: %s %s (%s)", order.Side, order.Symbol, res.Detail)
		t.persistOrder(ctx, order, sigID, res, "accepted")
		return nil
	}

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.IncrementOrdersFilled()
	}
	t.persistOrder(ctx, order, sigID, res, "filled")
	return t.applyFill(ctx, order, res, reason, exitPos)
}

// applyFill moves shares and cash for a confirmed fill.
func (t *Trader) applyFill(ctx context.Context, order broker.Order, res broker.Result, reason string, exitPos *ledger.Position) error {
	gross := res.FillPrice * res.FilledQty
	filledAt := res.FilledAt
	if filledAt.IsZero() {
		filledAt = t.cfg.Clock()
	}

	if exitPos == nil {
		if err := t.cfg.Ledger.Open(ctx, order.Symbol, res.FilledQty, res.FillPrice, filledAt); err != nil {
			return err
		}
		t.cfg.Account.Debit(gross)
		log.Printf("💰 Filled: BUY %s %.4f @ %.2f ($%.2f)", order.Symbol, res.FilledQty, res.FillPrice, gross)
		t.persistTrade(ctx, order, res, gross, 0, reason)
	} else {
		closed, err := t.cfg.Ledger.Close(ctx, order.Symbol)
		if err != nil {
			return err
		}
		pnl := (res.FillPrice - closed.EntryPrice) * closed.Shares
		if closed.Shares > 0 {
			t.cfg.Account.Credit(gross)
		} else {
			t.cfg.Account.Debit(gross)
		}
		t.cfg.Account.RecordRealized(ctx, pnl)
		log.Printf("💰 Closed: %s %s %.4f @ %.2f, PnL %.2f (%s)",
			order.Side, order.Symbol, res.FilledQty, res.FillPrice, pnl, reason)
		t.persistTrade(ctx, order, res, gross, pnl, reason)
	}

	t.cfg.Account.SetMarkToMarket(ctx, t.cfg.Account.Cash(), t.cfg.Ledger.MarketValue())
	if t.cfg.Bus != nil {
		t.cfg.Bus.Publish(events.EventPositionChange, struct {
			Symbol string  `json:"symbol"`
			Side   string  `json:"side"`
			Qty    float64 `json:"qty"`
			Price  float64 `json:"price"`
		}{order.Symbol, order.Side, res.FilledQty, res.FillPrice})
	}
	return nil
}

// abortCycle handles a ledger invariant violation: alert loudly and
// stop submitting anything else this cycle. The book stays at its last
// consistent state.
func (t *Trader) abortCycle(inv *ledger.InvariantError) {
	msg := fmt.Sprintf("ledger invariant violated, cycle aborted: %v", inv)
	log.Printf("💥 %s", msg)
	if t.cfg.Bus != nil {
		t.cfg.Bus.Publish(events.EventRiskAlert, msg)
	}
}

// publishSnapshot swaps in the cycle's immutable view and announces it.
func (t *Trader) publishSnapshot(cycle uint64, signals []strategy.Signal) {
	snap := Snapshot{
		Cycle:       cycle,
		State:       t.State().String(),
		At:          t.cfg.Clock(),
		Account:     t.cfg.Account.Snapshot(),
		Positions:   t.cfg.Ledger.Snapshot(),
		LastSignals: signals,
		KillReason:  t.KillReason(),
	}
	t.snapshot.Store(snap)
	if t.cfg.Bus != nil {
		t.cfg.Bus.Publish(events.EventCycleComplete, snap)
	}
}

func (t *Trader) publishSignal(sig strategy.Signal, decision risk.Decision) {
	if t.cfg.Bus == nil {
		return
	}
	t.cfg.Bus.Publish(events.EventStrategySignal, struct {
		Symbol     string  `json:"symbol"`
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
		Code       string  `json:"code"`
		Allowed    bool    `json:"allowed"`
	}{sig.Symbol, sig.Action, sig.Confidence, sig.Reason, decision.Code, decision.Allowed})
}

// persistSignal writes the audit row and returns its ID so orders can
// link back to the signal that produced them.
func (t *Trader) persistSignal(ctx context.Context, sig strategy.Signal, code, decisionReason string, approved bool) string {
	id := uuid.NewString()
	if t.cfg.DB == nil {
		return id
	}
	row := db.Signal{
		ID:             id,
		StrategyID:     sig.StrategyID,
		Symbol:         sig.Symbol,
		Action:         sig.Action,
		Confidence:     sig.Confidence,
		Notional:       sig.Notional,
		Reason:         sig.Reason,
		DecisionCode:   code,
		DecisionReason: decisionReason,
		Approved:       approved,
		CreatedAt:      t.cfg.Clock(),
	}
	if err := t.cfg.DB.CreateSignal(ctx, row); err != nil {
		log.Printf("⚠️ Signal persist failed: %v", err)
	}
	return id
}

func (t *Trader) persistOrder(ctx context.Context, order broker.Order, sigID string, res broker.Result, status string) {
	if t.cfg.DB == nil {
		return
	}
	row := db.Order{
		ID:        order.ID,
		SignalID:  sigID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Type:      order.Type,
		Notional:  order.Notional,
		Qty:       order.Qty,
		FillPrice: res.FillPrice,
		FilledQty: res.FilledQty,
		Status:    status,
		Detail:    res.Detail,
		CreatedAt: order.CreatedAt,
	}
	if err := t.cfg.DB.CreateOrder(ctx, row); err != nil {
		log.Printf("⚠️ Order persist failed: %v", err)
	}
}

func (t *Trader) persistTrade(ctx context.Context, order broker.Order, res broker.Result, notional, pnl float64, reason string) {
	if t.cfg.DB == nil {
		return
	}
	row := db.Trade{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     res.FillPrice,
		Qty:       res.FilledQty,
		Notional:  notional,
		PnL:       pnl,
		Reason:    reason,
		CreatedAt: res.FilledAt,
	}
	if err := t.cfg.DB.CreateTrade(ctx, row); err != nil {
		log.Printf("⚠️ Trade persist failed: %v", err)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur <= 0 {
		return backoffInitial
	}
	next := cur * 2
	if next > backoffMax {
		return backoffMax
	}
	return next
}
