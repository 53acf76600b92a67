package strategy

import (
	"encoding/json"
	"time"

	"trading-agent/internal/ledger"
	"trading-agent/internal/market"
)

// Actions a signal can request.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Signal is a decision emitted by a strategy. Immutable value, produced
// fresh each evaluation cycle.
type Signal struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"` // [0,1]
	Notional   float64   `json:"notional"`   // USD; 0 = let the sizing policy decide
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Strategy is the contract every tradable strategy implements. A
// strategy is pure over the supplied market data plus its own indicator
// state (which it may advance); it never touches the ledger or the
// account.
type Strategy interface {
	// ID returns the unique instance ID.
	ID() string
	// Name returns the human-readable name.
	Name() string
	// GenerateSignals evaluates the latest bar windows for entries.
	GenerateSignals(data map[string][]market.Bar) ([]Signal, error)
	// ShouldExit is evaluated once per open position per cycle; the
	// string is the exit reason.
	ShouldExit(pos ledger.Position, bars []market.Bar) (bool, string)
	// PositionSize converts confidence into a USD notional.
	PositionSize(symbol string, accountValue, confidence float64) float64

	// State management: snapshot and restore of indicator state so a
	// restart does not re-fire stale entries.
	GetState() (json.RawMessage, error)
	SetState(data json.RawMessage) error
}

// DefaultPositionSize is the stock sizing policy: 1%-2% of account
// value, linear in confidence.
func DefaultPositionSize(accountValue, confidence float64) float64 {
	return (0.01 + 0.01*confidence) * accountValue
}
