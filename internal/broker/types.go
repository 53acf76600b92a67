package broker

import (
	"context"
	"errors"
	"time"
)

// Order side and type values.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeMarket = "market"
	TypeLimit  = "limit"
)

// ErrBroker marks execution-layer failures (transport, rejection,
// insufficient funds). The engine logs these and leaves the ledger
// untouched; it never retries inside the same cycle.
var ErrBroker = errors.New("broker error")

// Order is a risk-approved instruction handed to a Broker. Buys carry
// Notional (dollar-sized market orders); exits carry Qty so the full
// position is closed regardless of price drift since approval.
type Order struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // BUY or SELL
	Type         string    `json:"type"` // market or limit
	Notional     float64   `json:"notional,omitempty"`
	Qty          float64   `json:"qty,omitempty"`
	LimitPrice   float64   `json:"limit_price,omitempty"`
	SignalReason string    `json:"signal_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Result reports what became of a submitted order. Accepted means the
// broker took the order; FilledQty > 0 means shares actually moved
// within the fill window.
type Result struct {
	OrderID   string    `json:"order_id"`
	Accepted  bool      `json:"accepted"`
	FillPrice float64   `json:"fill_price,omitempty"`
	FilledQty float64   `json:"filled_qty,omitempty"`
	FilledAt  time.Time `json:"filled_at,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Filled reports whether shares moved.
func (r Result) Filled() bool { return r.Accepted && r.FilledQty > 0 }

// Broker executes approved orders against a venue, simulated or real.
type Broker interface {
	SubmitOrder(ctx context.Context, o Order) (Result, error)
	Name() string
}
