package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultStreamURL is the free-tier (IEX) market-data stream.
const DefaultStreamURL = "wss://stream.data.alpaca.markets/v2/iex"

// StreamClient manages streaming market data from the Alpaca websocket.
// Unlike the REST client the stream requires an explicit auth message
// before any subscription is accepted.
type StreamClient struct {
	Key       string
	Secret    string
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client for the data stream.
func NewStreamClient(key, secret string) *StreamClient {
	return &StreamClient{
		Key:       key,
		Secret:    secret,
		StreamURL: DefaultStreamURL,
		dialer:    websocket.DefaultDialer,
	}
}

// Trade is a single trade print from the data stream.
type Trade struct {
	Symbol    string
	Price     float64
	Size      float64
	Timestamp time.Time
}

// SubscribeTrades authenticates, subscribes to trade messages for the
// given symbols, and pushes parsed trades into a channel. It returns
// the channel and a stop function.
func (c *StreamClient) SubscribeTrades(ctx context.Context, symbols []string) (<-chan Trade, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, c.StreamURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial alpaca ws: %w", err)
	}

	if err := c.handshake(conn, symbols); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	out := make(chan Trade, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			close(out)
		})
	}

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				// If connection already closed by caller/context, just exit quietly.
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				log.Printf("alpaca ws read error: %v", err)
				return
			}

			trades, err := parseTradeMessages(msg)
			if err != nil {
				log.Printf("alpaca ws parse error: %v", err)
				continue
			}
			for _, t := range trades {
				out <- t
			}
		}
	}()

	return out, stop, nil
}

// handshake performs the auth and subscribe exchange. The server
// greets first, then expects auth, then accepts subscriptions.
func (c *StreamClient) handshake(conn *websocket.Conn, symbols []string) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	if err := awaitControl(conn, "connected"); err != nil {
		return err
	}

	auth := map[string]string{"action": "auth", "key": c.Key, "secret": c.Secret}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("alpaca ws auth: %w", err)
	}
	if err := awaitControl(conn, "authenticated"); err != nil {
		return err
	}

	sub := map[string]any{"action": "subscribe", "trades": symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("alpaca ws subscribe: %w", err)
	}
	return awaitControl(conn, "subscription")
}

// controlMessage decodes only the fields we need from control frames.
type controlMessage struct {
	Type string `json:"T"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// awaitControl reads frames until the expected control ack arrives.
// Errors from the server abort immediately; anything else (data that
// raced ahead of the ack) is skipped.
func awaitControl(conn *websocket.Conn, want string) error {
	for i := 0; i < 5; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("alpaca ws read: %w", err)
		}
		var frames []controlMessage
		if err := json.Unmarshal(msg, &frames); err != nil {
			continue
		}
		for _, f := range frames {
			switch {
			case f.Type == "error":
				return fmt.Errorf("alpaca ws error %d: %s", f.Code, f.Msg)
			case f.Type == "success" && f.Msg == want:
				return nil
			case f.Type == want:
				return nil
			}
		}
	}
	return fmt.Errorf("alpaca ws: no %q ack", want)
}

// parseTradeMessages decodes a frame of stream messages, keeping only
// trade prints.
func parseTradeMessages(msg []byte) ([]Trade, error) {
	var raw []struct {
		Type      string    `json:"T"`
		Symbol    string    `json:"S"`
		Price     float64   `json:"p"`
		Size      float64   `json:"s"`
		Timestamp time.Time `json:"t"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	var trades []Trade
	for _, m := range raw {
		if m.Type != "t" {
			continue
		}
		trades = append(trades, Trade{
			Symbol:    m.Symbol,
			Price:     m.Price,
			Size:      m.Size,
			Timestamp: m.Timestamp,
		})
	}
	return trades, nil
}
