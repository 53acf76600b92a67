package reconcile

import (
	"context"
	"strconv"

	"trading-agent/pkg/alpaca"
)

// AlpacaSource adapts the brokerage REST client to PositionSource.
type AlpacaSource struct {
	Client *alpaca.Client
}

func (a AlpacaSource) Positions(ctx context.Context) ([]BrokerPosition, error) {
	rows, err := a.Client.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BrokerPosition, 0, len(rows))
	for _, p := range rows {
		entry, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		out = append(out, BrokerPosition{
			Symbol:     p.Symbol,
			Qty:        p.QtyValue(),
			EntryPrice: entry,
		})
	}
	return out, nil
}
