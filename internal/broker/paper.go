package broker

import (
	"context"
	"fmt"
	"sync"

	"trading-agent/internal/events"
)

// PriceFn resolves the current mark price for a symbol. The engine
// wires it to the ledger's latest marks; backtests wire it to the bar
// being replayed.
type PriceFn func(symbol string) (float64, bool)

// Paper simulates an instant-fill brokerage account. Market orders fill
// at the mark price shifted by the configured slippage (buys pay up,
// sells receive less) and are charged the fee rate. The slippage is
// applied as a fixed fraction, not sampled noise, so a replay over the
// same bars produces identical fills.
type Paper struct {
	mu          sync.Mutex
	cash        float64
	slippageBps float64
	feeRate     float64
	price       PriceFn
	bus         *events.Bus

	fills     int
	totalFees float64
}

// NewPaper creates a simulated account. bus may be nil (backtests).
func NewPaper(startCash, slippageBps, feeRate float64, price PriceFn, bus *events.Bus) *Paper {
	return &Paper{
		cash:        startCash,
		slippageBps: slippageBps,
		feeRate:     feeRate,
		price:       price,
		bus:         bus,
	}
}

func (p *Paper) Name() string { return "paper" }

// SubmitOrder fills the order against the current mark. Buys without a
// resolvable price or without enough cash are rejected.
func (p *Paper) SubmitOrder(ctx context.Context, o Order) (Result, error) {
	if o.Side != SideBuy && o.Side != SideSell {
		return Result{OrderID: o.ID}, fmt.Errorf("%w: unknown side %q", ErrBroker, o.Side)
	}

	mark, ok := p.price(o.Symbol)
	if !ok || mark <= 0 {
		return Result{OrderID: o.ID, Detail: "no mark price"},
			fmt.Errorf("%w: no mark price for %s", ErrBroker, o.Symbol)
	}

	fill := mark
	if slip := p.slippageBps / 10000.0; slip > 0 {
		if o.Side == SideBuy {
			fill = mark * (1 + slip)
		} else {
			fill = mark * (1 - slip)
		}
	}

	qty := o.Qty
	if qty == 0 {
		if o.Notional <= 0 {
			return Result{OrderID: o.ID}, fmt.Errorf("%w: order %s has neither qty nor notional", ErrBroker, o.ID)
		}
		qty = o.Notional / fill
	}

	gross := fill * qty
	fee := gross * p.feeRate

	p.mu.Lock()
	if o.Side == SideBuy {
		if gross+fee > p.cash {
			p.mu.Unlock()
			return Result{OrderID: o.ID, Detail: "insufficient cash"},
				fmt.Errorf("%w: insufficient cash for %s: need %.2f, have %.2f", ErrBroker, o.Symbol, gross+fee, p.cash)
		}
		p.cash -= gross + fee
	} else {
		p.cash += gross - fee
	}
	p.fills++
	p.totalFees += fee
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Publish(events.EventOrderFilled, struct {
			OrderID string  `json:"order_id"`
			Symbol  string  `json:"symbol"`
			Side    string  `json:"side"`
			Qty     float64 `json:"qty"`
			Price   float64 `json:"price"`
		}{o.ID, o.Symbol, o.Side, qty, fill})
	}

	// FilledAt mirrors the order's creation time rather than the wall
	// clock so replayed fills carry bar time.
	return Result{
		OrderID:   o.ID,
		Accepted:  true,
		FillPrice: fill,
		FilledQty: qty,
		FilledAt:  o.CreatedAt,
	}, nil
}

// Cash returns the simulated cash balance.
func (p *Paper) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Fills returns the fill count and total fees charged.
func (p *Paper) Fills() (int, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills, p.totalFees
}
