package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trading-agent/pkg/alpaca"
)

// Alpaca submits market orders through the Alpaca trading API and polls
// briefly for the fill. Market orders in liquid names normally fill
// within a second; an order still working when the window closes is
// reported accepted-but-unfilled and left to reconciliation.
type Alpaca struct {
	Client       *alpaca.Client
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// NewAlpaca wraps an authenticated REST client.
func NewAlpaca(client *alpaca.Client) *Alpaca {
	return &Alpaca{
		Client:       client,
		PollInterval: 500 * time.Millisecond,
		PollTimeout:  5 * time.Second,
	}
}

func (a *Alpaca) Name() string { return "alpaca" }

// SubmitOrder places the order and polls for its fill.
func (a *Alpaca) SubmitOrder(ctx context.Context, o Order) (Result, error) {
	req := alpaca.OrderRequest{
		Symbol:        o.Symbol,
		Side:          strings.ToLower(o.Side),
		Type:          o.Type,
		TimeInForce:   "day",
		ClientOrderID: o.ID,
	}
	switch {
	case o.Qty > 0:
		req.Qty = strconv.FormatFloat(o.Qty, 'f', -1, 64)
	case o.Notional > 0:
		req.Notional = strconv.FormatFloat(o.Notional, 'f', 2, 64)
	default:
		return Result{OrderID: o.ID}, fmt.Errorf("%w: order %s has neither qty nor notional", ErrBroker, o.ID)
	}
	if o.Type == TypeLimit && o.LimitPrice > 0 {
		req.LimitPrice = strconv.FormatFloat(o.LimitPrice, 'f', 2, 64)
	}

	placed, err := a.Client.SubmitOrder(ctx, req)
	if err != nil {
		return Result{OrderID: o.ID}, fmt.Errorf("%w: submit %s %s: %v", ErrBroker, o.Side, o.Symbol, err)
	}

	res := Result{OrderID: o.ID, Accepted: true, Detail: placed.Status}
	if filled, done := fillFrom(placed, &res); done {
		return filled, nil
	}

	interval := a.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	timeout := a.PollTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			res.Detail = "fill poll cancelled: " + res.Detail
			return res, nil
		case <-deadline.C:
			res.Detail = "unfilled after poll window: " + res.Detail
			return res, nil
		case <-ticker.C:
			cur, err := a.Client.GetOrder(ctx, placed.ID)
			if err != nil {
				// Transient poll failure; the order itself is in.
				continue
			}
			res.Detail = cur.Status
			if filled, done := fillFrom(cur, &res); done {
				return filled, nil
			}
		}
	}
}

func fillFrom(o *alpaca.Order, res *Result) (Result, bool) {
	if !o.Filled() {
		return *res, false
	}
	res.FillPrice = o.FilledAvgPriceValue()
	res.FilledQty = o.FilledQtyValue()
	res.Detail = o.Status
	if o.FilledAt != nil {
		res.FilledAt = *o.FilledAt
	}
	return *res, true
}
