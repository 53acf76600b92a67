package backtest

import (
	"fmt"
	"strings"
	"time"
)

// TradeRecord is one completed round trip: the entry fill paired with
// the exit that flattened it.
type TradeRecord struct {
	Symbol     string    `json:"symbol"`
	Qty        float64   `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
}

// DayResult is the per-date roll-up of a replay.
type DayResult struct {
	Date     string  `json:"date"`
	PnL      float64 `json:"pnl"`
	Trades   int     `json:"trades"`
	EndValue float64 `json:"end_value"`
}

// Summary is the outcome of one replay. Two runs over the same bars
// with the same configuration produce identical summaries.
type Summary struct {
	StrategyID     string        `json:"strategy_id"`
	Symbols        []string      `json:"symbols"`
	Bars           int           `json:"bars"`
	StartValue     float64       `json:"start_value"`
	EndValue       float64       `json:"end_value"`
	TotalReturn    float64       `json:"total_return"`
	TotalReturnPct float64       `json:"total_return_pct"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	Wins           int           `json:"wins"`
	Losses         int           `json:"losses"`
	WinRate        float64       `json:"win_rate"`
	AvgWin         float64       `json:"avg_win"`
	AvgLoss        float64       `json:"avg_loss"`
	ProfitFactor   float64       `json:"profit_factor"` // 0 when no losing trades
	OpenAtEnd      int           `json:"open_at_end"`
	Trades         []TradeRecord `json:"trades"`
	Daily          []DayResult   `json:"daily"`
}

// Report renders the summary as a human-readable block, one stat per
// line, in the shape operators paste into a channel.
func (s *Summary) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backtest: %s on %s (%d bars)\n", s.StrategyID, strings.Join(s.Symbols, ","), s.Bars)
	fmt.Fprintf(&b, "  Start value:    %12.2f\n", s.StartValue)
	fmt.Fprintf(&b, "  End value:      %12.2f\n", s.EndValue)
	fmt.Fprintf(&b, "  Total return:   %12.2f (%+.2f%%)\n", s.TotalReturn, s.TotalReturnPct)
	fmt.Fprintf(&b, "  Max drawdown:   %11.2f%%\n", s.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Trades:         %8d (%d win / %d loss, %.1f%% win rate)\n",
		len(s.Trades), s.Wins, s.Losses, s.WinRate)
	fmt.Fprintf(&b, "  Avg win/loss:   %12.2f / %.2f\n", s.AvgWin, s.AvgLoss)
	if s.Losses > 0 {
		fmt.Fprintf(&b, "  Profit factor:  %12.2f\n", s.ProfitFactor)
	} else {
		fmt.Fprintf(&b, "  Profit factor:  %12s\n", "n/a")
	}
	if s.OpenAtEnd > 0 {
		fmt.Fprintf(&b, "  Open at end:    %8d position(s)\n", s.OpenAtEnd)
	}
	for _, d := range s.Daily {
		fmt.Fprintf(&b, "  %s  pnl %10.2f  trades %3d  value %12.2f\n",
			d.Date, d.PnL, d.Trades, d.EndValue)
	}
	return b.String()
}
