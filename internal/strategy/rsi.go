package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"trading-agent/internal/indicators"
	"trading-agent/internal/ledger"
	"trading-agent/internal/market"
)

// RSIParams configures an RSIReversion instance. Zero values fall back
// to the stock defaults.
type RSIParams struct {
	Period      int     `json:"period"`        // default 14
	Oversold    float64 `json:"oversold"`      // default 30
	Overbought  float64 `json:"overbought"`    // default 70
	StopLossPct float64 `json:"stop_loss_pct"` // default 0.02
}

func (p *RSIParams) normalize() error {
	if p.Period == 0 {
		p.Period = 14
	}
	if p.Oversold == 0 {
		p.Oversold = 30
	}
	if p.Overbought == 0 {
		p.Overbought = 70
	}
	if p.StopLossPct == 0 {
		p.StopLossPct = 0.02
	}
	if p.Oversold >= p.Overbought {
		return fmt.Errorf("oversold %.1f must be below overbought %.1f", p.Oversold, p.Overbought)
	}
	return nil
}

type rsiSymbolState struct {
	PrevRSI float64   `json:"prev_rsi"`
	Primed  bool      `json:"primed"`
	LastBar time.Time `json:"last_bar"`
}

// RSIReversion buys when RSI crosses up through the oversold bound and
// exits once it reaches overbought (or the stop loss trips). Long-only.
type RSIReversion struct {
	id     string
	params RSIParams

	state map[string]*rsiSymbolState
}

// NewRSIReversion builds the strategy with normalized params.
func NewRSIReversion(id string, params RSIParams) (*RSIReversion, error) {
	if err := params.normalize(); err != nil {
		return nil, fmt.Errorf("rsi %s: %w", id, err)
	}
	return &RSIReversion{
		id:     id,
		params: params,
		state:  make(map[string]*rsiSymbolState),
	}, nil
}

func (s *RSIReversion) ID() string {
	return s.id
}

func (s *RSIReversion) Name() string {
	return fmt.Sprintf("RSI_Reversion_%d", s.params.Period)
}

// GenerateSignals fires on the bar where RSI recovers up through the
// oversold bound. The cross-up rule (not "RSI is low") keeps it from
// buying into a still-falling knife and from re-firing every bar.
func (s *RSIReversion) GenerateSignals(data map[string][]market.Bar) ([]Signal, error) {
	symbols := make([]string, 0, len(data))
	for sym := range data {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var signals []Signal
	for _, sym := range symbols {
		bars := data[sym]
		if len(bars) < s.params.Period+1 {
			continue
		}
		last := bars[len(bars)-1]

		st := s.state[sym]
		if st == nil {
			st = &rsiSymbolState{}
			s.state[sym] = st
		}
		if st.Primed && !last.Timestamp.After(st.LastBar) {
			continue
		}

		rsi := indicators.RSI(closesOf(bars), s.params.Period)

		if st.Primed && st.PrevRSI <= s.params.Oversold && rsi > s.params.Oversold {
			signals = append(signals, Signal{
				StrategyID: s.id,
				Symbol:     sym,
				Action:     ActionBuy,
				Confidence: s.confidence(st.PrevRSI),
				Reason: fmt.Sprintf("RSI%d recovered: %.1f -> %.1f through oversold %.0f",
					s.params.Period, st.PrevRSI, rsi, s.params.Oversold),
				At: last.Timestamp,
			})
		}

		st.PrevRSI = rsi
		st.Primed = true
		st.LastBar = last.Timestamp
	}
	return signals, nil
}

// ShouldExit trips on the stop loss or on RSI reaching overbought.
func (s *RSIReversion) ShouldExit(pos ledger.Position, bars []market.Bar) (bool, string) {
	if len(bars) == 0 {
		return false, ""
	}
	price := bars[len(bars)-1].Close

	if pos.Shares > 0 {
		if stop := pos.EntryPrice * (1 - s.params.StopLossPct); price <= stop {
			return true, fmt.Sprintf("stop loss: %.2f <= %.2f (entry %.2f)", price, stop, pos.EntryPrice)
		}
	}

	if len(bars) >= s.params.Period+1 {
		rsi := indicators.RSI(closesOf(bars), s.params.Period)
		if rsi >= s.params.Overbought {
			return true, fmt.Sprintf("RSI%d overbought: %.1f >= %.0f", s.params.Period, rsi, s.params.Overbought)
		}
	}

	return false, ""
}

// PositionSize applies the stock 1%-2% policy.
func (s *RSIReversion) PositionSize(symbol string, accountValue, confidence float64) float64 {
	return DefaultPositionSize(accountValue, confidence)
}

func (s *RSIReversion) GetState() (json.RawMessage, error) {
	return json.Marshal(s.state)
}

func (s *RSIReversion) SetState(data json.RawMessage) error {
	state := make(map[string]*rsiSymbolState)
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.state = state
	return nil
}

// confidence grows with how deep the oversold excursion went before the
// recovery bar. Base 0.6, cap 0.9.
func (s *RSIReversion) confidence(prevRSI float64) float64 {
	conf := 0.6 + (s.params.Oversold-prevRSI)*0.01
	if conf > 0.9 {
		conf = 0.9
	}
	if conf < 0.6 {
		conf = 0.6
	}
	return conf
}
