package engine

import (
	"time"

	"trading-agent/internal/account"
	"trading-agent/internal/ledger"
	"trading-agent/internal/monitor"
	"trading-agent/internal/strategy"
	"trading-agent/pkg/db"
)

// State is the engine's lifecycle position, stored atomically so API
// readers never block the cycle loop.
type State int32

const (
	StateIdle State = iota
	StateFetchingData
	StateEvaluating
	StateSubmittingOrders
	StateAwaitingFills
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetchingData:
		return "FETCHING_DATA"
	case StateEvaluating:
		return "EVALUATING"
	case StateSubmittingOrders:
		return "SUBMITTING_ORDERS"
	case StateAwaitingFills:
		return "AWAITING_FILLS"
	case StateKilled:
		return "KILLED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is the immutable per-cycle view the loop publishes for
// observers. Readers get the whole struct by value; nothing in it
// aliases loop-owned memory.
type Snapshot struct {
	Cycle       uint64            `json:"cycle"`
	State       string            `json:"state"`
	At          time.Time         `json:"at"`
	Account     account.State     `json:"account"`
	Positions   []ledger.Position `json:"positions"`
	LastSignals []strategy.Signal `json:"last_signals,omitempty"`
	KillReason  string            `json:"kill_reason,omitempty"`
}

// SystemStatus is the /status payload: static identity plus the live
// engine state.
type SystemStatus struct {
	Mode           string    `json:"mode"`
	Version        string    `json:"version"`
	NodeID         string    `json:"node_id"`
	Symbols        []string  `json:"symbols"`
	Strategy       string    `json:"strategy"`
	Broker         string    `json:"broker"`
	State          string    `json:"state"`
	Cycle          uint64    `json:"cycle"`
	TradingEnabled bool      `json:"trading_enabled"`
	KillReason     string    `json:"kill_reason,omitempty"`
	ServerTime     time.Time `json:"server_time"`
}

// Stats aggregates the account, today's roll-up and system metrics.
type Stats struct {
	Account       account.State           `json:"account"`
	Daily         *db.DailyStat           `json:"daily,omitempty"`
	OpenPositions int                     `json:"open_positions"`
	Metrics       monitor.MetricsSnapshot `json:"metrics"`
}
