package risk

import "fmt"

// Decision codes, stable across logs, the signals audit table, and the
// API. Rejections are policy outcomes, not errors.
const (
	CodeApproved          = "APPROVED"
	CodeTradingDisabled   = "TRADING_DISABLED"
	CodeOrderTooLarge     = "ORDER_TOO_LARGE"
	CodeDailyLossLimit    = "DAILY_LOSS_LIMIT"
	CodeDuplicatePosition = "DUPLICATE_POSITION"
	CodeNoPositionToExit  = "NO_POSITION_TO_EXIT"
)

// Oversize policies for orders above the notional cap.
const (
	PolicyClamp  = "clamp"  // shrink to the cap, stay active near limits
	PolicyReject = "reject" // hard veto
)

// Config defines the guardrails applied to every proposed order.
type Config struct {
	MaxOrderNotional float64 `json:"max_order_notional"` // USD per order
	MaxDailyLoss     float64 `json:"max_daily_loss"`     // USD, magnitude
	MinConfidence    float64 `json:"min_confidence"`     // entry filter, engine-side
	StopLossPct      float64 `json:"stop_loss_pct"`      // shared with strategies
	OversizePolicy   string  `json:"oversize_policy"`    // clamp or reject

	UseDailyLossLimit   bool `json:"use_daily_loss_limit"`
	UseOrderNotionalCap bool `json:"use_order_notional_cap"`
}

// DefaultConfig returns the stock guardrails.
func DefaultConfig() Config {
	return Config{
		MaxOrderNotional:    1000.0,
		MaxDailyLoss:        500.0,
		MinConfidence:       0.7,
		StopLossPct:         0.02,
		OversizePolicy:      PolicyClamp,
		UseDailyLossLimit:   true,
		UseOrderNotionalCap: true,
	}
}

// Validate rejects configurations that would disable the guardrails by
// accident rather than by toggle.
func (c Config) Validate() error {
	if c.MaxOrderNotional <= 0 {
		return fmt.Errorf("max_order_notional must be positive, got %v", c.MaxOrderNotional)
	}
	if c.MaxDailyLoss <= 0 {
		return fmt.Errorf("max_daily_loss must be positive, got %v", c.MaxDailyLoss)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", c.MinConfidence)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct must be in (0,1), got %v", c.StopLossPct)
	}
	if c.OversizePolicy != PolicyClamp && c.OversizePolicy != PolicyReject {
		return fmt.Errorf("oversize_policy must be %q or %q, got %q", PolicyClamp, PolicyReject, c.OversizePolicy)
	}
	return nil
}

// SignalInput is the slice of a strategy signal the risk checks need.
type SignalInput struct {
	Symbol     string
	Action     string // buy or sell
	Notional   float64
	Confidence float64
}

// PositionState is the ledger's answer for the signal's symbol.
type PositionState struct {
	Open       bool
	Shares     float64
	EntryPrice float64
}

// AccountView is the account snapshot the checks run against.
type AccountView struct {
	TradingEnabled   bool
	RealizedPnLToday float64
	AccountValue     float64
}

// Decision is the outcome of one approval. Approved decisions carry the
// final (possibly clamped) notional; a DAILY_LOSS_LIMIT rejection tells
// the engine to flip the account's trading flag.
type Decision struct {
	Allowed        bool    `json:"allowed"`
	Code           string  `json:"code"`
	Reason         string  `json:"reason"`
	Notional       float64 `json:"notional"`
	Clamped        bool    `json:"clamped"`
	DisableTrading bool    `json:"disable_trading"`
}
