// Package engine runs the trading loop and exposes it to the API layer
// through a narrow Service interface, keeping HTTP concerns out of the
// cycle path.
package engine

import (
	"context"

	"trading-agent/internal/account"
	"trading-agent/internal/ledger"
	"trading-agent/internal/risk"
	"trading-agent/pkg/db"
)

// Service is the surface the API layer consumes. Everything here reads
// published snapshots or the database; nothing reaches into a cycle in
// flight.
type Service interface {
	// System queries
	GetSystemStatus(ctx context.Context) SystemStatus
	GetSnapshot(ctx context.Context) Snapshot
	GetAccount(ctx context.Context) account.State
	GetPositions(ctx context.Context) []ledger.Position
	GetStats(ctx context.Context) (Stats, error)

	// Audit queries
	GetRecentSignals(ctx context.Context, limit int) ([]db.Signal, error)
	GetRecentOrders(ctx context.Context, limit int) ([]db.Order, error)
	GetRecentTrades(ctx context.Context, limit int) ([]db.Trade, error)

	// Risk controls
	GetRiskConfig(ctx context.Context) risk.Config
	UpdateRiskConfig(ctx context.Context, cfg risk.Config) error

	// Kill permanently stops trading. There is no unkill; restart the
	// process to trade again.
	Kill(ctx context.Context, reason string)
}
