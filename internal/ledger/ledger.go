package ledger

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"trading-agent/pkg/db"
)

// InvariantError marks a violation of the position bookkeeping rules.
// The engine aborts the current cycle on it instead of crashing.
type InvariantError struct {
	Op     string
	Symbol string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant: %s %s: %s", e.Op, e.Symbol, e.Detail)
}

// Position is one open holding. Shares is signed: positive long,
// negative short.
type Position struct {
	Symbol       string    `json:"symbol"`
	Shares       float64   `json:"shares"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	EntryTime    time.Time `json:"entry_time"`
	PnL          float64   `json:"pnl"`
	PnLPct       float64   `json:"pnl_pct"`
}

// Manager keeps the in-memory position book while mirroring every
// change to the positions table for durability. The engine is the
// single writer; monitoring readers go through the RWMutex. At most one
// open position may exist per symbol, enforced by Open.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]Position
	db        *db.Database // nil = memory only (backtests)
}

// NewManager builds a position book. A nil database keeps the book
// memory-only.
func NewManager(database *db.Database) *Manager {
	return &Manager{
		db:        database,
		positions: make(map[string]Position),
	}
}

// Load seeds the book from the positions table on startup.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	rows, err := m.db.ListPositions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.positions[r.Symbol] = Position{
			Symbol:       r.Symbol,
			Shares:       r.Shares,
			EntryPrice:   r.EntryPrice,
			CurrentPrice: r.CurrentPrice,
			EntryTime:    r.EntryTime,
			PnL:          r.PnL,
			PnLPct:       r.PnLPct,
		}
	}
	return nil
}

// Open records a new position. Opening a symbol that already has one is
// an invariant violation; the book is never silently overwritten.
func (m *Manager) Open(ctx context.Context, symbol string, shares, entryPrice float64, entryTime time.Time) error {
	if shares == 0 {
		return &InvariantError{Op: "open", Symbol: symbol, Detail: "zero shares"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[symbol]; exists {
		return &InvariantError{Op: "open", Symbol: symbol, Detail: "position already open"}
	}
	p := Position{
		Symbol:       symbol,
		Shares:       shares,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		EntryTime:    entryTime,
	}
	m.positions[symbol] = p
	m.persist(ctx, p)
	return nil
}

// Mark updates the mark price and PnL for a symbol. Unknown symbols are
// ignored; a stale feed must not invent positions.
func (m *Manager) Mark(ctx context.Context, symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return
	}
	mark(&p, price)
	m.positions[symbol] = p
	m.persist(ctx, p)
}

// MarkAll updates every open position that has a price in the map.
func (m *Manager) MarkAll(ctx context.Context, prices map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for symbol, price := range prices {
		p, ok := m.positions[symbol]
		if !ok {
			continue
		}
		mark(&p, price)
		m.positions[symbol] = p
		m.persist(ctx, p)
	}
}

// Close removes a position and returns its final marked state. Closing
// a symbol with no open position is an invariant violation.
func (m *Manager) Close(ctx context.Context, symbol string) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return Position{}, &InvariantError{Op: "close", Symbol: symbol, Detail: "no open position"}
	}
	delete(m.positions, symbol)
	if m.db != nil {
		if err := m.db.DeletePosition(ctx, symbol); err != nil {
			log.Printf("ledger: delete %s row: %v", symbol, err)
		}
	}
	return p, nil
}

// Sync overwrites a position's share count to match an external source
// of truth (the brokerage). This is the reconciliation entry point and
// deliberately bypasses the Open invariant: the drift is already real
// at the broker, and callers log every overwrite. Zero shares removes
// the position.
func (m *Manager) Sync(ctx context.Context, symbol string, shares, entryPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if shares == 0 {
		if _, ok := m.positions[symbol]; !ok {
			return
		}
		delete(m.positions, symbol)
		if m.db != nil {
			if err := m.db.DeletePosition(ctx, symbol); err != nil {
				log.Printf("ledger: delete %s row: %v", symbol, err)
			}
		}
		return
	}

	p, ok := m.positions[symbol]
	if !ok {
		p = Position{
			Symbol:       symbol,
			EntryPrice:   entryPrice,
			CurrentPrice: entryPrice,
			EntryTime:    time.Now(),
		}
	}
	p.Shares = shares
	if entryPrice > 0 {
		p.EntryPrice = entryPrice
	}
	mark(&p, p.CurrentPrice)
	m.positions[symbol] = p
	m.persist(ctx, p)
}

// Get returns the position for a symbol.
func (m *Manager) Get(symbol string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// Snapshot returns a copy of every open position, ordered by symbol.
func (m *Manager) Snapshot() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}

// Len returns the number of open positions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// MarketValue returns the net signed mark value of the book. Shorts
// contribute negatively, so cash + MarketValue is the account's
// mark-to-market value.
func (m *Manager) MarketValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, p := range m.positions {
		total += p.CurrentPrice * p.Shares
	}
	return total
}

func mark(p *Position, price float64) {
	p.CurrentPrice = price
	p.PnL = (price - p.EntryPrice) * p.Shares
	if denom := p.EntryPrice * math.Abs(p.Shares); denom != 0 {
		p.PnLPct = p.PnL / denom
	} else {
		p.PnLPct = 0
	}
}

// persist mirrors the row. Persistence failures degrade durability, not
// trading: logged and swallowed.
func (m *Manager) persist(ctx context.Context, p Position) {
	if m.db == nil {
		return
	}
	row := db.Position{
		Symbol:       p.Symbol,
		Shares:       p.Shares,
		EntryPrice:   p.EntryPrice,
		CurrentPrice: p.CurrentPrice,
		EntryTime:    p.EntryTime,
		PnL:          p.PnL,
		PnLPct:       p.PnLPct,
	}
	if err := m.db.UpsertPosition(ctx, row); err != nil {
		log.Printf("ledger: persist %s: %v", p.Symbol, err)
	}
}
