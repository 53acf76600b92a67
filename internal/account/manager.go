package account

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"trading-agent/pkg/db"
)

// State is a point-in-time copy of the account.
type State struct {
	Date             string  `json:"date"`
	AccountValue     float64 `json:"account_value"`
	Cash             float64 `json:"cash"`
	PositionValue    float64 `json:"position_value"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
	TradesToday      int     `json:"trades_today"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	TradingEnabled   bool    `json:"trading_enabled"`
}

// Manager tracks cash, daily realized PnL, and the trading-enabled
// flag. The flag is atomic so the hot path reads it without taking the
// stats lock; flipping it off is one-way for the process lifetime (a
// restart restores the configured default, and a new date starts fresh
// daily stats).
type Manager struct {
	enabled atomic.Bool

	mu            sync.RWMutex
	date          string
	cash          float64
	positionValue float64
	realizedToday float64
	tradesToday   int
	wins          int
	losses        int

	// Clock overrides the wall clock for date keying; replays drive it
	// from bar timestamps so daily stats stay reproducible.
	Clock func() time.Time

	db *db.Database // nil = memory only
}

// NewManager creates an account seeded with startCash. Trading starts
// enabled.
func NewManager(database *db.Database, startCash float64) *Manager {
	m := &Manager{
		db:   database,
		cash: startCash,
	}
	m.enabled.Store(true)
	m.date = m.today()
	return m
}

func (m *Manager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

func (m *Manager) today() string {
	return m.now().Format("2006-01-02")
}

// TradingEnabled reports whether new entries may be approved. Lock-free;
// racing a concurrent kill is harmless because the flag only goes off.
func (m *Manager) TradingEnabled() bool {
	return m.enabled.Load()
}

// Disable turns trading off for the rest of the process lifetime.
// Idempotent; only the first call logs.
func (m *Manager) Disable(reason string) {
	if m.enabled.CompareAndSwap(true, false) {
		log.Printf("🛑 Trading disabled: %s", reason)
	}
}

// RecordRealized books the realized PnL of a closed position into
// today's stats.
func (m *Manager) RecordRealized(ctx context.Context, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.realizedToday += pnl
	m.tradesToday++
	if pnl > 0 {
		m.wins++
	} else if pnl < 0 {
		m.losses++
	}
	m.persistLocked(ctx)
}

// SetMarkToMarket refreshes cash and the marked value of open
// positions; account value is their sum.
func (m *Manager) SetMarkToMarket(ctx context.Context, cash, positionValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.cash = cash
	m.positionValue = positionValue
	m.persistLocked(ctx)
}

// Debit removes cash on a buy fill.
func (m *Manager) Debit(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cash -= amount
}

// Credit adds cash on a sell fill.
func (m *Manager) Credit(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cash += amount
}

// Cash returns the current cash balance.
func (m *Manager) Cash() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cash
}

// Snapshot returns a copy of the account state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		Date:             m.date,
		AccountValue:     m.cash + m.positionValue,
		Cash:             m.cash,
		PositionValue:    m.positionValue,
		RealizedPnLToday: m.realizedToday,
		TradesToday:      m.tradesToday,
		WinningTrades:    m.wins,
		LosingTrades:     m.losses,
		TradingEnabled:   m.enabled.Load(),
	}
}

// Load restores today's stats row after a restart. A row from an
// earlier date is left alone; the day simply starts fresh.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	today := m.today()
	row, err := m.db.GetDailyStats(ctx, today)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.date = today
	m.realizedToday = row.RealizedPnL
	m.tradesToday = row.Trades
	m.wins = row.Wins
	m.losses = row.Losses
	log.Printf("💰 Restored daily stats for %s: pnl=%.2f trades=%d", today, row.RealizedPnL, row.Trades)
	return nil
}

// rolloverLocked starts a fresh day when the date changes under a
// running process. The trading flag is not touched: a daily-loss halt
// lasts until restart even across midnight.
func (m *Manager) rolloverLocked() {
	today := m.today()
	if m.date == today {
		return
	}
	log.Printf("🔄 New trading day %s (prev %s: pnl=%.2f trades=%d)", today, m.date, m.realizedToday, m.tradesToday)
	m.date = today
	m.realizedToday = 0
	m.tradesToday = 0
	m.wins = 0
	m.losses = 0
}

// persistLocked mirrors today's row. Best effort: stats are
// reconstructible from trades, so failures only log.
func (m *Manager) persistLocked(ctx context.Context) {
	if m.db == nil {
		return
	}
	err := m.db.UpsertDailyStats(ctx, db.DailyStat{
		Date:         m.date,
		RealizedPnL:  m.realizedToday,
		Trades:       m.tradesToday,
		Wins:         m.wins,
		Losses:       m.losses,
		AccountValue: m.cash + m.positionValue,
	})
	if err != nil {
		log.Printf("account: persist daily stats: %v", err)
	}
}
