package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestPositionRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	entry := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	pos := Position{
		Symbol:       "AAPL",
		Shares:       5,
		EntryPrice:   190.25,
		CurrentPrice: 192.10,
		EntryTime:    entry,
		PnL:          9.25,
		PnLPct:       0.0097,
	}
	if err := database.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}

	// Upsert again with a new mark; must not duplicate the row.
	pos.CurrentPrice = 193.00
	pos.PnL = 13.75
	if err := database.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("UpsertPosition update: %v", err)
	}

	positions, err := database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	got := positions[0]
	if got.Symbol != "AAPL" || got.Shares != 5 || got.CurrentPrice != 193.00 {
		t.Errorf("position mismatch: %+v", got)
	}

	if err := database.DeletePosition(ctx, "AAPL"); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
	positions, err = database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("ListPositions after delete: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected 0 positions after delete, got %d", len(positions))
	}
}

func TestDailyStatsUpsert(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	stat := DailyStat{Date: "2025-06-02", RealizedPnL: -120.5, Trades: 3, Wins: 1, Losses: 2, AccountValue: 99879.5}
	if err := database.UpsertDailyStats(ctx, stat); err != nil {
		t.Fatalf("UpsertDailyStats: %v", err)
	}

	stat.RealizedPnL = -80.0
	stat.Trades = 4
	stat.Wins = 2
	if err := database.UpsertDailyStats(ctx, stat); err != nil {
		t.Fatalf("UpsertDailyStats update: %v", err)
	}

	got, err := database.GetDailyStats(ctx, "2025-06-02")
	if err != nil {
		t.Fatalf("GetDailyStats: %v", err)
	}
	if got == nil {
		t.Fatal("expected stats row, got nil")
	}
	if got.RealizedPnL != -80.0 || got.Trades != 4 || got.Wins != 2 {
		t.Errorf("stats mismatch: %+v", got)
	}

	missing, err := database.GetDailyStats(ctx, "2025-06-03")
	if err != nil {
		t.Fatalf("GetDailyStats missing date: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing date, got %+v", missing)
	}
}

func TestSignalAuditLog(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	signals := []Signal{
		{ID: "sig-1", StrategyID: "sma-cross", Symbol: "AAPL", Action: "buy",
			Confidence: 0.82, Notional: 950, Reason: "crossover", DecisionCode: "OK", Approved: true},
		{ID: "sig-2", StrategyID: "sma-cross", Symbol: "MSFT", Action: "buy",
			Confidence: 0.74, Notional: 1200, DecisionCode: "ORDER_TOO_LARGE", Approved: false},
	}
	for _, s := range signals {
		if err := database.CreateSignal(ctx, s); err != nil {
			t.Fatalf("CreateSignal %s: %v", s.ID, err)
		}
	}

	got, err := database.ListRecentSignals(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentSignals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(got))
	}
	for _, s := range got {
		if s.ID == "sig-2" && s.Approved {
			t.Errorf("sig-2 should not be approved: %+v", s)
		}
	}
}

func TestStrategyStateRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	state := []byte(`{"prices":{"AAPL":[1,2,3]}}`)
	if err := database.SaveStrategyState(ctx, "sma-cross", state); err != nil {
		t.Fatalf("SaveStrategyState: %v", err)
	}

	got, err := database.GetStrategyState(ctx, "sma-cross")
	if err != nil {
		t.Fatalf("GetStrategyState: %v", err)
	}
	if string(got) != string(state) {
		t.Errorf("state mismatch: got %s", got)
	}

	missing, err := database.GetStrategyState(ctx, "unknown")
	if err != nil {
		t.Fatalf("GetStrategyState unknown: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil state for unknown strategy, got %s", missing)
	}
}

func TestDailyPicksRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	picks := []string{"NVDA", "TSLA", "AMD"}
	if err := database.SaveDailyPicks(ctx, "2025-06-02", picks); err != nil {
		t.Fatalf("SaveDailyPicks: %v", err)
	}

	got, err := database.GetDailyPicks(ctx, "2025-06-02")
	if err != nil {
		t.Fatalf("GetDailyPicks: %v", err)
	}
	if len(got) != 3 || got[0] != "NVDA" {
		t.Errorf("picks mismatch: %v", got)
	}

	missing, err := database.GetDailyPicks(ctx, "2025-06-03")
	if err != nil {
		t.Fatalf("GetDailyPicks missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil picks for missing date, got %v", missing)
	}
}
