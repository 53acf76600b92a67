// Package reconcile keeps the local position book honest against the
// brokerage. Fills can be missed across restarts or broker-side
// liquidations; a periodic diff catches the drift before the risk
// checks trade on stale state.
package reconcile

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"trading-agent/internal/ledger"
)

// qtyTolerance is the share drift below which positions are considered
// in agreement (fractional-share dust from notional orders).
const qtyTolerance = 0.0001

// BrokerPosition is one holding as the brokerage reports it.
type BrokerPosition struct {
	Symbol     string
	Qty        float64 // signed, negative = short
	EntryPrice float64
}

// PositionSource is the slice of the brokerage client the reconciler
// needs. A nil source (paper and backtest modes) reconciles clean.
type PositionSource interface {
	Positions(ctx context.Context) ([]BrokerPosition, error)
}

// Diff is one disagreement between the ledger and the broker.
type Diff struct {
	Symbol    string  `json:"symbol"`
	LocalQty  float64 `json:"local_qty"`
	BrokerQty float64 `json:"broker_qty"`
	Synced    bool    `json:"synced"`
}

// Report summarizes one reconciliation pass.
type Report struct {
	At          time.Time `json:"at"`
	Diffs       []Diff    `json:"diffs,omitempty"`
	SyncedCount int       `json:"synced_count"`
}

// Clean reports whether the books agreed.
func (r *Report) Clean() bool { return len(r.Diffs) == 0 }

// Service diffs the ledger against the broker, optionally overwriting
// local quantities to match. The broker always wins on quantity; entry
// prices are kept where the ledger already has them.
type Service struct {
	source   PositionSource
	book     *ledger.Manager
	interval time.Duration

	mu       sync.Mutex
	autoSync bool
}

// NewService builds a reconciler. A nil source makes every pass a
// no-op that reports clean.
func NewService(source PositionSource, book *ledger.Manager, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Service{
		source:   source,
		book:     book,
		interval: interval,
		autoSync: true,
	}
}

// SetAutoSync toggles whether diffs are applied or only reported.
func (s *Service) SetAutoSync(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSync = enabled
	log.Printf("Reconcile auto-sync: %v", enabled)
}

// Start runs periodic reconciliation until ctx is done.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					log.Printf("❌ Reconcile error: %v", err)
					continue
				}
				s.logReport(report)
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("✓ Reconcile service started (interval %s)", s.interval)
}

// Reconcile performs one diff pass and returns the report.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{At: time.Now()}
	if s.source == nil {
		return report, nil
	}

	brokerPos, err := s.source.Positions(ctx)
	if err != nil {
		return nil, err
	}
	atBroker := make(map[string]BrokerPosition, len(brokerPos))
	for _, p := range brokerPos {
		atBroker[p.Symbol] = p
	}

	// Broker-side positions the ledger disagrees with.
	for sym, bp := range atBroker {
		local, _ := s.book.Get(sym)
		if math.Abs(local.Shares-bp.Qty) <= qtyTolerance {
			continue
		}
		diff := Diff{Symbol: sym, LocalQty: local.Shares, BrokerQty: bp.Qty}
		if s.autoSync {
			entry := local.EntryPrice
			if entry == 0 {
				entry = bp.EntryPrice
			}
			log.Printf("🔄 Syncing %s: %.4f -> %.4f shares", sym, local.Shares, bp.Qty)
			s.book.Sync(ctx, sym, bp.Qty, entry)
			diff.Synced = true
			report.SyncedCount++
		}
		report.Diffs = append(report.Diffs, diff)
	}

	// Ledger positions the broker no longer holds.
	for _, local := range s.book.Snapshot() {
		if _, ok := atBroker[local.Symbol]; ok {
			continue
		}
		diff := Diff{Symbol: local.Symbol, LocalQty: local.Shares, BrokerQty: 0}
		if s.autoSync {
			log.Printf("🔄 Removing %s: broker reports flat, ledger had %.4f shares", local.Symbol, local.Shares)
			s.book.Sync(ctx, local.Symbol, 0, 0)
			diff.Synced = true
			report.SyncedCount++
		}
		report.Diffs = append(report.Diffs, diff)
	}

	return report, nil
}

func (s *Service) logReport(report *Report) {
	if report.Clean() {
		log.Printf("✅ Reconcile OK: ledger matches broker")
		return
	}
	log.Printf("⚠️ Reconcile found %d position diffs (%d synced):", len(report.Diffs), report.SyncedCount)
	for _, d := range report.Diffs {
		status := "not synced"
		if d.Synced {
			status = "synced"
		}
		log.Printf("  %s: local=%.4f broker=%.4f [%s]", d.Symbol, d.LocalQty, d.BrokerQty, status)
	}
}
