package engine

import (
	"context"
	"fmt"
	"time"

	"trading-agent/internal/account"
	"trading-agent/internal/ledger"
	"trading-agent/internal/monitor"
	"trading-agent/internal/risk"
	"trading-agent/pkg/db"
)

// Impl implements Service by composing the trader with its managers.
type Impl struct {
	trader  *Trader
	riskMgr *risk.Manager
	account *account.Manager
	ledger  *ledger.Manager
	db      *db.Database
	metrics *monitor.SystemMetrics

	// Static system metadata; live fields are filled per call.
	meta SystemStatus
}

// Config holds the pieces an engine service is assembled from.
type Config struct {
	Trader  *Trader
	RiskMgr *risk.Manager
	Account *account.Manager
	Ledger  *ledger.Manager
	DB      *db.Database
	Metrics *monitor.SystemMetrics
	Meta    SystemStatus
}

// NewImpl creates the service facade over a running trader.
func NewImpl(cfg Config) *Impl {
	return &Impl{
		trader:  cfg.Trader,
		riskMgr: cfg.RiskMgr,
		account: cfg.Account,
		ledger:  cfg.Ledger,
		db:      cfg.DB,
		metrics: cfg.Metrics,
		meta:    cfg.Meta,
	}
}

// --- System queries ---

func (e *Impl) GetSystemStatus(ctx context.Context) SystemStatus {
	s := e.meta
	s.State = e.trader.State().String()
	s.Cycle = e.trader.Cycle()
	s.TradingEnabled = e.account.TradingEnabled()
	s.KillReason = e.trader.KillReason()
	s.ServerTime = time.Now().UTC()
	return s
}

func (e *Impl) GetSnapshot(ctx context.Context) Snapshot {
	return e.trader.Snapshot()
}

func (e *Impl) GetAccount(ctx context.Context) account.State {
	return e.account.Snapshot()
}

func (e *Impl) GetPositions(ctx context.Context) []ledger.Position {
	return e.ledger.Snapshot()
}

func (e *Impl) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Account:       e.account.Snapshot(),
		OpenPositions: e.ledger.Len(),
	}
	if e.metrics != nil {
		stats.Metrics = e.metrics.GetSnapshot()
	}
	if e.db != nil {
		daily, err := e.db.GetDailyStats(ctx, time.Now().UTC().Format("2006-01-02"))
		if err != nil {
			return stats, fmt.Errorf("daily stats: %w", err)
		}
		stats.Daily = daily
	}
	return stats, nil
}

// --- Audit queries ---

func (e *Impl) GetRecentSignals(ctx context.Context, limit int) ([]db.Signal, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.ListRecentSignals(ctx, limit)
}

func (e *Impl) GetRecentOrders(ctx context.Context, limit int) ([]db.Order, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.ListRecentOrders(ctx, limit)
}

func (e *Impl) GetRecentTrades(ctx context.Context, limit int) ([]db.Trade, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.ListRecentTrades(ctx, limit)
}

// --- Risk controls ---

func (e *Impl) GetRiskConfig(ctx context.Context) risk.Config {
	return e.riskMgr.GetConfig()
}

func (e *Impl) UpdateRiskConfig(ctx context.Context, cfg risk.Config) error {
	return e.riskMgr.UpdateConfig(cfg)
}

// --- Kill switch ---

func (e *Impl) Kill(ctx context.Context, reason string) {
	e.trader.Kill(reason)
}

// Compile-time check that Impl satisfies Service.
var _ Service = (*Impl)(nil)
