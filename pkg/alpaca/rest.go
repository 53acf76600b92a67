package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Default endpoints. Paper and live trading expose the same API
// surface; only the base URL differs. Market data lives on its own
// host regardless of trading mode.
const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"
	DataBaseURL  = "https://data.alpaca.markets"
)

// Client is a minimal Alpaca REST client covering the trading and
// market-data endpoints the engine needs. Every request carries the
// key/secret header pair and passes through a shared limiter so bursts
// of polling stay under the broker-side request cap (200/min on the
// free data tier).
type Client struct {
	APIKey     string
	APISecret  string
	BaseURL    string // trading API, paper or live
	DataURL    string // market data API
	HTTPClient *http.Client

	limiter *rate.Limiter
}

// NewClient creates a client against the given trading base URL.
// An empty baseURL selects the paper endpoint.
func NewClient(apiKey, apiSecret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = PaperBaseURL
	}
	return &Client{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
		DataURL:   DataBaseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(200.0/60.0), 20),
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alpaca: status %d: %s", e.Status, e.Body)
}

// Account mirrors GET /v2/account. Alpaca encodes money as strings.
type Account struct {
	ID             string `json:"id"`
	AccountNumber  string `json:"account_number"`
	Status         string `json:"status"`
	Currency       string `json:"currency"`
	Cash           string `json:"cash"`
	Equity         string `json:"equity"`
	BuyingPower    string `json:"buying_power"`
	PortfolioValue string `json:"portfolio_value"`
	TradingBlocked bool   `json:"trading_blocked"`
}

// CashValue returns the cash balance as a float.
func (a Account) CashValue() float64 { return atof(a.Cash) }

// EquityValue returns total equity as a float.
func (a Account) EquityValue() float64 { return atof(a.Equity) }

// Position mirrors one element of GET /v2/positions.
type Position struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
	Side          string `json:"side"`
}

// QtyValue returns the signed share count as a float.
func (p Position) QtyValue() float64 { return atof(p.Qty) }

// Clock mirrors GET /v2/clock.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// OrderRequest is the body of POST /v2/orders. Exactly one of Qty or
// Notional must be set; both are string-encoded decimals on the wire.
type OrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Order mirrors the order object returned by the trading API.
type Order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Qty            string     `json:"qty"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice string     `json:"filled_avg_price"`
	Status         string     `json:"status"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

// Filled reports whether the order reached a terminal filled state.
func (o Order) Filled() bool { return o.Status == "filled" }

// FilledQtyValue returns the filled quantity as a float.
func (o Order) FilledQtyValue() float64 { return atof(o.FilledQty) }

// FilledAvgPriceValue returns the average fill price as a float.
func (o Order) FilledAvgPriceValue() float64 { return atof(o.FilledAvgPrice) }

// Bar is one aggregate from the market-data API.
type Bar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// GetAccount fetches the trading account.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.doJSON(ctx, http.MethodGet, c.BaseURL+"/v2/account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetPositions fetches all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.doJSON(ctx, http.MethodGet, c.BaseURL+"/v2/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetClock fetches the market clock.
func (c *Client) GetClock(ctx context.Context) (*Clock, error) {
	var clock Clock
	if err := c.doJSON(ctx, http.MethodGet, c.BaseURL+"/v2/clock", nil, &clock); err != nil {
		return nil, err
	}
	return &clock, nil
}

// SubmitOrder places an order and returns the accepted order object.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var order Order
	if err := c.doJSON(ctx, http.MethodPost, c.BaseURL+"/v2/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches a single order by broker ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	u := c.BaseURL + "/v2/orders/" + url.PathEscape(orderID)
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetBars fetches up to limit recent bars per symbol. A single page is
// enough for the lookback windows the strategies use; the API caps one
// page at 10000 bars.
func (c *Client) GetBars(ctx context.Context, symbols []string, timeframe string, limit int) (map[string][]Bar, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("timeframe", timeframe)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("adjustment", "raw")

	var payload struct {
		Bars map[string][]Bar `json:"bars"`
	}
	u := c.DataURL + "/v2/stocks/bars?" + params.Encode()
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Bars, nil
}

func (c *Client) doJSON(ctx context.Context, method, rawURL string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", c.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.APISecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// atof parses Alpaca's string-encoded decimals, returning 0 for empty
// or malformed values.
func atof(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
