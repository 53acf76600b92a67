package alpaca

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetAccountSendsAuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("APCA-API-KEY-ID"); got != "key-1" {
			t.Errorf("key header = %q", got)
		}
		if got := r.Header.Get("APCA-API-SECRET-KEY"); got != "secret-1" {
			t.Errorf("secret header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"acct-1","status":"ACTIVE","cash":"25000.50","equity":"31000.25"}`))
	}))
	defer srv.Close()

	client := NewClient("key-1", "secret-1", srv.URL)
	acct, err := client.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.ID != "acct-1" {
		t.Errorf("id = %q", acct.ID)
	}
	if got := acct.CashValue(); got != 25000.50 {
		t.Errorf("cash = %v, want 25000.50", got)
	}
	if got := acct.EquityValue(); got != 31000.25 {
		t.Errorf("equity = %v, want 31000.25", got)
	}
}

func TestGetBarsParsesPerSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("symbols"); got != "AAPL,MSFT" {
			t.Errorf("symbols = %q", got)
		}
		if got := q.Get("timeframe"); got != "1Min" {
			t.Errorf("timeframe = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bars":{"AAPL":[{"t":"2026-02-02T15:30:00Z","o":185.1,"h":185.6,"l":184.9,"c":185.4,"v":120000}],"MSFT":[{"t":"2026-02-02T15:30:00Z","o":410.0,"h":411.2,"l":409.8,"c":411.0,"v":95000}]},"next_page_token":null}`))
	}))
	defer srv.Close()

	client := NewClient("k", "s", "")
	client.DataURL = srv.URL

	bars, err := client.GetBars(context.Background(), []string{"AAPL", "MSFT"}, "1Min", 50)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d symbols, want 2", len(bars))
	}
	aapl := bars["AAPL"]
	if len(aapl) != 1 || aapl[0].Close != 185.4 || aapl[0].Volume != 120000 {
		t.Errorf("unexpected AAPL bars: %+v", aapl)
	}
}

func TestSubmitOrderReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":40310000,"message":"account is restricted"}`))
	}))
	defer srv.Close()

	client := NewClient("k", "s", srv.URL)
	_, err := client.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Notional: "500", Side: "buy", Type: "market", TimeInForce: "day",
	})
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("status = %d", apiErr.Status)
	}
}

func TestParseTradeMessagesSkipsControlFrames(t *testing.T) {
	payload := []byte(`[{"T":"success","msg":"authenticated"},{"T":"t","S":"AAPL","p":185.42,"s":100,"t":"2026-02-02T15:30:01Z"}]`)
	trades, err := parseTradeMessages(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if trades[0].Symbol != "AAPL" || trades[0].Price != 185.42 {
		t.Errorf("unexpected trade: %+v", trades[0])
	}
}
