package market

import (
	"context"
	"sort"
)

// HistFeed replays a preloaded bar series. Each FetchBars call exposes one
// more bar per symbol, so driving it in a loop walks the history exactly as
// a live feed would have delivered it. Returns ErrExhausted at the end.
type HistFeed struct {
	series map[string][]Bar
	cursor int
	length int
}

// NewHistFeed builds a replay feed. Series are assumed index-aligned; the
// replay length is the longest series.
func NewHistFeed(series map[string][]Bar) *HistFeed {
	length := 0
	for _, bars := range series {
		if len(bars) > length {
			length = len(bars)
		}
	}
	return &HistFeed{series: series, length: length}
}

// Symbols lists the symbols with data, sorted.
func (h *HistFeed) Symbols() []string {
	out := make([]string, 0, len(h.series))
	for sym := range h.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len reports the total number of replay steps.
func (h *HistFeed) Len() int { return h.length }

// Cursor reports how many steps have been replayed.
func (h *HistFeed) Cursor() int { return h.cursor }

// FetchBars exposes the next bar for every requested symbol and returns the
// trailing window up to lookback bars.
func (h *HistFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]Bar, error) {
	if h.cursor >= h.length {
		return nil, ErrExhausted
	}
	h.cursor++

	if len(symbols) == 0 {
		symbols = h.Symbols()
	}
	out := make(map[string][]Bar, len(symbols))
	for _, sym := range symbols {
		bars, ok := h.series[sym]
		if !ok {
			continue
		}
		upto := h.cursor
		if upto > len(bars) {
			upto = len(bars)
		}
		window := bars[:upto]
		if lookback > 0 && len(window) > lookback {
			window = window[len(window)-lookback:]
		}
		cp := make([]Bar, len(window))
		copy(cp, window)
		out[sym] = cp
	}
	return out, nil
}
