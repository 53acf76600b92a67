package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Tick is an intra-cycle price update, published on the bus for observers.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}

// ErrDataUnavailable marks transient feed failures. The engine retries next
// cycle instead of crashing.
var ErrDataUnavailable = errors.New("market data unavailable")

// ErrExhausted is returned by historical feeds once every bar has been
// replayed. It wraps ErrDataUnavailable so generic callers still treat it as
// a feed failure.
var ErrExhausted = fmt.Errorf("%w: history exhausted", ErrDataUnavailable)

// Feed supplies OHLCV bars per symbol: an unbounded live sequence in
// production, a finite replay in backtests. Bars are ordered oldest to
// newest, at most lookback per symbol.
type Feed interface {
	FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]Bar, error)
}

// LatestClose returns the close of the most recent bar, or 0 for an empty
// series.
func LatestClose(bars []Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}
