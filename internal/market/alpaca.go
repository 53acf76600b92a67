package market

import (
	"context"
	"fmt"

	"trading-agent/pkg/alpaca"
)

// AlpacaFeed adapts the brokerage market-data API to the Feed
// interface. Transport failures are wrapped in ErrDataUnavailable so
// the caller can back off without caring about the cause.
type AlpacaFeed struct {
	Client    *alpaca.Client
	Timeframe string
}

// NewAlpacaFeed wraps a REST client. An empty timeframe defaults to
// one-minute bars.
func NewAlpacaFeed(client *alpaca.Client, timeframe string) *AlpacaFeed {
	if timeframe == "" {
		timeframe = "1Min"
	}
	return &AlpacaFeed{Client: client, Timeframe: timeframe}
}

// FetchBars fetches up to lookback recent bars per symbol. Symbols the
// API returns nothing for are simply absent from the result.
func (f *AlpacaFeed) FetchBars(ctx context.Context, symbols []string, lookback int) (map[string][]Bar, error) {
	raw, err := f.Client.GetBars(ctx, symbols, f.Timeframe, lookback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	out := make(map[string][]Bar, len(raw))
	for symbol, bars := range raw {
		converted := make([]Bar, len(bars))
		for i, b := range bars {
			converted[i] = Bar{
				Timestamp: b.Timestamp,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}
		}
		out[symbol] = converted
	}
	return out, nil
}
