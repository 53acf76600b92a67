package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// Signal is an audit row: every strategy signal together with the risk
// decision it received.
type Signal struct {
	ID             string
	StrategyID     string
	Symbol         string
	Action         string
	Confidence     float64
	Notional       float64
	Reason         string
	DecisionCode   string
	DecisionReason string
	Approved       bool
	CreatedAt      time.Time
}

// Order represents a submitted order stored in the DB.
type Order struct {
	ID        string
	SignalID  string
	Symbol    string
	Side      string
	Type      string
	Notional  float64
	Qty       float64
	FillPrice float64
	FilledQty float64
	Status    string
	Detail    string
	CreatedAt time.Time
}

// Trade represents a fill stored in the DB. Exits carry the realized PnL.
type Trade struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      string
	Price     float64
	Qty       float64
	Notional  float64
	Fee       float64
	PnL       float64
	Reason    string
	CreatedAt time.Time
}

// Position is the persisted form of an open position.
type Position struct {
	Symbol       string
	Shares       float64
	EntryPrice   float64
	CurrentPrice float64
	EntryTime    time.Time
	PnL          float64
	PnLPct       float64
	UpdatedAt    time.Time
}

// DailyStat is the date-keyed account roll-up.
type DailyStat struct {
	Date         string
	RealizedPnL  float64
	Trades       int
	Wins         int
	Losses       int
	AccountValue float64
	UpdatedAt    time.Time
}

// BacktestRun stores one backtest summary.
type BacktestRun struct {
	ID         string
	StrategyID string
	StartDate  string
	EndDate    string
	Symbols    string
	Summary    string
	CreatedAt  time.Time
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateSignal inserts a signal audit row.
func (d *Database) CreateSignal(ctx context.Context, s Signal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (
			id, strategy_id, symbol, action, confidence, notional, reason,
			decision_code, decision_reason, approved, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		s.ID, s.StrategyID, s.Symbol, s.Action, s.Confidence, s.Notional, s.Reason,
		s.DecisionCode, s.DecisionReason, s.Approved, s.CreatedAt,
	)
	return err
}

// ListRecentSignals returns the newest signal rows, newest first.
func (d *Database) ListRecentSignals(ctx context.Context, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, strategy_id, symbol, action, confidence, notional,
		       COALESCE(reason, ''), COALESCE(decision_code, ''),
		       COALESCE(decision_reason, ''), approved, created_at
		FROM signals ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Signal
	for rows.Next() {
		var s Signal
		if err := rows.Scan(&s.ID, &s.StrategyID, &s.Symbol, &s.Action, &s.Confidence,
			&s.Notional, &s.Reason, &s.DecisionCode, &s.DecisionReason, &s.Approved, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, signal_id, symbol, side, type, notional, qty, fill_price, filled_qty,
			status, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		o.ID, o.SignalID, o.Symbol, o.Side, o.Type, o.Notional, o.Qty, o.FillPrice,
		o.FilledQty, o.Status, o.Detail, o.CreatedAt,
	)
	return err
}

// UpdateOrderFill sets status, fill price and filled quantity.
func (d *Database) UpdateOrderFill(ctx context.Context, id, status string, fillPrice, filledQty float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, fill_price = ?, filled_qty = ?
		WHERE id = ?
	`, status, fillPrice, filledQty, id)
	return err
}

// ListRecentOrders returns the newest orders, newest first.
func (d *Database) ListRecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(signal_id, ''), symbol, side, type, notional, qty,
		       fill_price, filled_qty, status, COALESCE(detail, ''), created_at
		FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.SignalID, &o.Symbol, &o.Side, &o.Type, &o.Notional,
			&o.Qty, &o.FillPrice, &o.FilledQty, &o.Status, &o.Detail, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CreateTrade inserts a new trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, order_id, symbol, side, price, qty, notional, fee, pnl, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		t.ID, t.OrderID, t.Symbol, t.Side, t.Price, t.Qty, t.Notional, t.Fee, t.PnL, t.Reason, t.CreatedAt,
	)
	return err
}

// ListRecentTrades returns the newest trades, newest first.
func (d *Database) ListRecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, order_id, symbol, side, price, qty, notional, fee, pnl,
		       COALESCE(reason, ''), created_at
		FROM trades ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side, &t.Price, &t.Qty,
			&t.Notional, &t.Fee, &t.PnL, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpsertPosition stores the latest open position for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, shares, entry_price, current_price, entry_time, pnl, pnl_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			shares = excluded.shares,
			entry_price = excluded.entry_price,
			current_price = excluded.current_price,
			entry_time = excluded.entry_time,
			pnl = excluded.pnl,
			pnl_pct = excluded.pnl_pct,
			updated_at = CURRENT_TIMESTAMP
	`, p.Symbol, p.Shares, p.EntryPrice, p.CurrentPrice, p.EntryTime, p.PnL, p.PnLPct)
	return err
}

// DeletePosition removes the persisted position for a symbol.
func (d *Database) DeletePosition(ctx context.Context, symbol string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

// ListPositions returns all persisted open positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, shares, entry_price, current_price, entry_time, pnl, pnl_pct, updated_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Shares, &p.EntryPrice, &p.CurrentPrice,
			&p.EntryTime, &p.PnL, &p.PnLPct, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpsertDailyStats stores the account roll-up for a date.
func (d *Database) UpsertDailyStats(ctx context.Context, s DailyStat) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO daily_stats (date, realized_pnl, trades, wins, losses, account_value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date) DO UPDATE SET
			realized_pnl = excluded.realized_pnl,
			trades = excluded.trades,
			wins = excluded.wins,
			losses = excluded.losses,
			account_value = excluded.account_value,
			updated_at = CURRENT_TIMESTAMP
	`, s.Date, s.RealizedPnL, s.Trades, s.Wins, s.Losses, s.AccountValue)
	return err
}

// GetDailyStats returns the roll-up for a date, or nil when absent.
func (d *Database) GetDailyStats(ctx context.Context, date string) (*DailyStat, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT date, realized_pnl, trades, wins, losses, account_value, updated_at
		FROM daily_stats WHERE date = ?`, date)
	var s DailyStat
	if err := row.Scan(&s.Date, &s.RealizedPnL, &s.Trades, &s.Wins, &s.Losses, &s.AccountValue, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// SaveStrategyState upserts a strategy's serialized indicator state.
func (d *Database) SaveStrategyState(ctx context.Context, strategyID string, state []byte) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_states (strategy_id, state_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_id) DO UPDATE SET
			state_data = excluded.state_data,
			updated_at = CURRENT_TIMESTAMP
	`, strategyID, string(state))
	return err
}

// GetStrategyState returns a strategy's serialized state, or nil when absent.
func (d *Database) GetStrategyState(ctx context.Context, strategyID string) ([]byte, error) {
	row := d.DB.QueryRowContext(ctx,
		`SELECT state_data FROM strategy_states WHERE strategy_id = ?`, strategyID)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return []byte(data), nil
}

// SaveDailyPicks stores the screener selection for a date.
func (d *Database) SaveDailyPicks(ctx context.Context, date string, symbols []string) error {
	payload, err := json.Marshal(symbols)
	if err != nil {
		return err
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO daily_picks (date, symbols, created_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date) DO UPDATE SET symbols = excluded.symbols
	`, date, string(payload))
	return err
}

// GetDailyPicks returns the screener selection for a date, or nil when absent.
func (d *Database) GetDailyPicks(ctx context.Context, date string) ([]string, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT symbols FROM daily_picks WHERE date = ?`, date)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	if err := json.Unmarshal([]byte(payload), &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// CreateBacktestRun stores one backtest summary row.
func (d *Database) CreateBacktestRun(ctx context.Context, r BacktestRun) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, strategy_id, start_date, end_date, symbols, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, r.ID, r.StrategyID, r.StartDate, r.EndDate, r.Symbols, r.Summary, r.CreatedAt)
	return err
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
