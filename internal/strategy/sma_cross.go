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

// SMAParams configures an SMACross instance. Zero values fall back to
// the stock defaults.
type SMAParams struct {
	ShortWindow     int     `json:"short_window"`     // default 5
	LongWindow      int     `json:"long_window"`      // default 20
	VolumeWindow    int     `json:"volume_window"`    // default 20
	VolumeThreshold float64 `json:"volume_threshold"` // default 1.5
	StopLossPct     float64 `json:"stop_loss_pct"`    // default 0.02
	FlattenAt       string  `json:"flatten_at"`       // "15:40" bar time; empty disables
}

func (p *SMAParams) normalize() error {
	if p.ShortWindow == 0 {
		p.ShortWindow = 5
	}
	if p.LongWindow == 0 {
		p.LongWindow = 20
	}
	if p.VolumeWindow == 0 {
		p.VolumeWindow = 20
	}
	if p.VolumeThreshold == 0 {
		p.VolumeThreshold = 1.5
	}
	if p.StopLossPct == 0 {
		p.StopLossPct = 0.02
	}
	if p.ShortWindow >= p.LongWindow {
		return fmt.Errorf("short window %d must be below long window %d", p.ShortWindow, p.LongWindow)
	}
	if p.FlattenAt != "" {
		if _, err := time.Parse("15:04", p.FlattenAt); err != nil {
			return fmt.Errorf("flatten_at %q: want HH:MM", p.FlattenAt)
		}
	}
	return nil
}

// smaSymbolState is the retained per-symbol view of the SMA
// relationship: the previous bar's pair, the regime it implies, and
// whether the current bullish regime already produced an entry. Kept
// across restarts via GetState/SetState so a reboot never re-fires a
// stale entry.
type smaSymbolState struct {
	PrevShort float64   `json:"prev_short"`
	PrevLong  float64   `json:"prev_long"`
	Bullish   bool      `json:"bullish"`
	Fired     bool      `json:"fired"`
	Primed    bool      `json:"primed"`
	LastBar   time.Time `json:"last_bar"`
}

// SMACross trades the moving-average crossover: it arms on the bar
// where the short SMA moves above the long SMA and fires a single buy
// once bar volume also clears the threshold. The entry stays armed
// while the regime holds, so a volume spike after the crossing bar
// still produces exactly one signal per regime, never one per bar.
type SMACross struct {
	id          string
	params      SMAParams
	flattenMins int // minutes since midnight, -1 disabled

	state map[string]*smaSymbolState
}

// NewSMACross builds the strategy with normalized params.
func NewSMACross(id string, params SMAParams) (*SMACross, error) {
	if err := params.normalize(); err != nil {
		return nil, fmt.Errorf("sma_cross %s: %w", id, err)
	}
	flatten := -1
	if params.FlattenAt != "" {
		t, _ := time.Parse("15:04", params.FlattenAt)
		flatten = t.Hour()*60 + t.Minute()
	}
	return &SMACross{
		id:          id,
		params:      params,
		flattenMins: flatten,
		state:       make(map[string]*smaSymbolState),
	}, nil
}

func (s *SMACross) ID() string {
	return s.id
}

func (s *SMACross) Name() string {
	return fmt.Sprintf("SMA_Cross_%d_%d", s.params.ShortWindow, s.params.LongWindow)
}

// GenerateSignals walks the supplied windows in sorted symbol order so
// replays are reproducible. Long-only entries; exits run separately via
// ShouldExit.
func (s *SMACross) GenerateSignals(data map[string][]market.Bar) ([]Signal, error) {
	symbols := make([]string, 0, len(data))
	for sym := range data {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var signals []Signal
	for _, sym := range symbols {
		bars := data[sym]
		if len(bars) < s.params.LongWindow {
			continue
		}
		last := bars[len(bars)-1]

		st := s.state[sym]
		if st == nil {
			st = &smaSymbolState{}
			s.state[sym] = st
		}
		// A repeated fetch of the same bar must not advance anything.
		if st.Primed && !last.Timestamp.After(st.LastBar) {
			continue
		}

		closes := closesOf(bars)
		short := indicators.SMA(closes, s.params.ShortWindow)
		long := indicators.SMA(closes, s.params.LongWindow)

		bullish := short > long
		if !st.Primed || bullish != st.Bullish {
			st.Fired = false
		}

		if bullish && !st.Fired {
			ratio := volumeRatio(volumesOf(bars), s.params.VolumeWindow)
			if ratio > s.params.VolumeThreshold {
				signals = append(signals, Signal{
					StrategyID: s.id,
					Symbol:     sym,
					Action:     ActionBuy,
					Confidence: s.confidence(short, long, ratio),
					Reason: fmt.Sprintf("golden cross: SMA%d %.2f > SMA%d %.2f, volume %.1fx avg",
						s.params.ShortWindow, short, s.params.LongWindow, long, ratio),
					At: last.Timestamp,
				})
				st.Fired = true
			}
		}

		st.PrevShort, st.PrevLong = short, long
		st.Bullish = bullish
		st.Primed = true
		st.LastBar = last.Timestamp
	}
	return signals, nil
}

// ShouldExit checks, in order: stop loss from entry, end-of-day
// flatten, then the SMA relationship turning against the position.
func (s *SMACross) ShouldExit(pos ledger.Position, bars []market.Bar) (bool, string) {
	if len(bars) == 0 {
		return false, ""
	}
	last := bars[len(bars)-1]
	price := last.Close

	if pos.Shares > 0 {
		if stop := pos.EntryPrice * (1 - s.params.StopLossPct); price <= stop {
			return true, fmt.Sprintf("stop loss: %.2f <= %.2f (entry %.2f)", price, stop, pos.EntryPrice)
		}
	} else if pos.Shares < 0 {
		if stop := pos.EntryPrice * (1 + s.params.StopLossPct); price >= stop {
			return true, fmt.Sprintf("stop loss: %.2f >= %.2f (entry %.2f)", price, stop, pos.EntryPrice)
		}
	}

	if s.flattenMins >= 0 {
		mins := last.Timestamp.Hour()*60 + last.Timestamp.Minute()
		if mins >= s.flattenMins {
			return true, "end of day flatten"
		}
	}

	if len(bars) >= s.params.LongWindow {
		closes := closesOf(bars)
		short := indicators.SMA(closes, s.params.ShortWindow)
		long := indicators.SMA(closes, s.params.LongWindow)
		if pos.Shares > 0 && short < long {
			return true, fmt.Sprintf("death cross: SMA%d %.2f < SMA%d %.2f",
				s.params.ShortWindow, short, s.params.LongWindow, long)
		}
		if pos.Shares < 0 && short > long {
			return true, fmt.Sprintf("golden cross against short: SMA%d %.2f > SMA%d %.2f",
				s.params.ShortWindow, short, s.params.LongWindow, long)
		}
	}

	return false, ""
}

// PositionSize applies the stock 1%-2% policy.
func (s *SMACross) PositionSize(symbol string, accountValue, confidence float64) float64 {
	return DefaultPositionSize(accountValue, confidence)
}

// GetState snapshots the per-symbol regime state.
func (s *SMACross) GetState() (json.RawMessage, error) {
	return json.Marshal(s.state)
}

// SetState restores the per-symbol regime state.
func (s *SMACross) SetState(data json.RawMessage) error {
	state := make(map[string]*smaSymbolState)
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.state = state
	return nil
}

// confidence blends the crossover gap with the volume surprise: base
// 0.6, gap normalized by the long SMA, capped at 0.9.
func (s *SMACross) confidence(short, long, ratio float64) float64 {
	conf := 0.6
	if long > 0 {
		conf += (short - long) / long * 10
	}
	if over := ratio - s.params.VolumeThreshold; over > 0 {
		conf += over * 0.1
	}
	if conf > 0.9 {
		conf = 0.9
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func closesOf(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func volumesOf(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// volumeRatio compares the latest bar's volume against the trailing
// average of the window before it.
func volumeRatio(volumes []float64, window int) float64 {
	if len(volumes) < 2 {
		return 0
	}
	prior := volumes[:len(volumes)-1]
	if len(prior) > window {
		prior = prior[len(prior)-window:]
	}
	avg := indicators.Mean(prior)
	if avg == 0 {
		return 0
	}
	return volumes[len(volumes)-1] / avg
}
