package risk

import (
	"fmt"
	"log"
	"sync"
)

// Manager applies the configured guardrails to proposed orders. Checks
// run in a fixed order and the first failure wins, so every audit row
// carries the dominant rejection reason. The manager holds no market
// state of its own; callers pass the position and account views in.
type Manager struct {
	mu  sync.RWMutex
	cfg Config
}

// NewManager validates the config and builds a manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	log.Printf("Risk manager initialized: cap=%.2f daily_loss=%.2f min_conf=%.2f policy=%s",
		cfg.MaxOrderNotional, cfg.MaxDailyLoss, cfg.MinConfidence, cfg.OversizePolicy)
	return &Manager{cfg: cfg}, nil
}

// GetConfig returns a copy of the current config.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig swaps in a new validated config at runtime.
func (m *Manager) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("risk config: %w", err)
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	log.Printf("Risk config updated: cap=%.2f daily_loss=%.2f min_conf=%.2f policy=%s",
		cfg.MaxOrderNotional, cfg.MaxDailyLoss, cfg.MinConfidence, cfg.OversizePolicy)
	return nil
}

// Approve evaluates one proposed order. Checks, in order, first failure
// wins:
//
//  1. trading flag (kill switch or halt rejects everything)
//  2. notional cap, buys only — clamp or reject per policy; exits are
//     always full-position so they bypass the cap
//  3. daily loss limit — rejection also requests the trading halt
//  4. buy with an open position
//  5. sell with nothing to exit
func (m *Manager) Approve(sig SignalInput, pos PositionState, acct AccountView) Decision {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	dec := Decision{Allowed: true, Code: CodeApproved, Notional: sig.Notional}

	if !acct.TradingEnabled {
		return Decision{
			Code:   CodeTradingDisabled,
			Reason: "trading disabled",
		}
	}

	if sig.Action == "buy" && cfg.UseOrderNotionalCap && sig.Notional > cfg.MaxOrderNotional {
		if cfg.OversizePolicy == PolicyReject {
			return Decision{
				Code:   CodeOrderTooLarge,
				Reason: fmt.Sprintf("notional %.2f over cap %.2f", sig.Notional, cfg.MaxOrderNotional),
			}
		}
		log.Printf("⚠️ Order clamped: %s %.2f -> %.2f", sig.Symbol, sig.Notional, cfg.MaxOrderNotional)
		dec.Notional = cfg.MaxOrderNotional
		dec.Clamped = true
	}

	if cfg.UseDailyLossLimit && acct.RealizedPnLToday <= -cfg.MaxDailyLoss {
		return Decision{
			Code:           CodeDailyLossLimit,
			Reason:         fmt.Sprintf("daily loss %.2f beyond limit %.2f", acct.RealizedPnLToday, cfg.MaxDailyLoss),
			DisableTrading: true,
		}
	}

	switch sig.Action {
	case "buy":
		if pos.Open {
			return Decision{
				Code:   CodeDuplicatePosition,
				Reason: fmt.Sprintf("%s already has an open position", sig.Symbol),
			}
		}
	case "sell":
		if !pos.Open {
			return Decision{
				Code:   CodeNoPositionToExit,
				Reason: fmt.Sprintf("%s has no open position to exit", sig.Symbol),
			}
		}
	}

	return dec
}
