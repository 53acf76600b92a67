package account

import (
	"context"
	"testing"
	"time"

	"trading-agent/pkg/db"
)

func TestRecordRealizedAccumulates(t *testing.T) {
	m := NewManager(nil, 10000)
	ctx := context.Background()

	m.RecordRealized(ctx, 120.0)
	m.RecordRealized(ctx, -45.0)
	m.RecordRealized(ctx, 30.0)

	s := m.Snapshot()
	if s.RealizedPnLToday != 105.0 {
		t.Errorf("RealizedPnLToday = %v, want 105", s.RealizedPnLToday)
	}
	if s.TradesToday != 3 || s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Errorf("counters = %d/%d/%d, want 3/2/1", s.TradesToday, s.WinningTrades, s.LosingTrades)
	}
}

func TestDisableIsOneWay(t *testing.T) {
	m := NewManager(nil, 10000)
	if !m.TradingEnabled() {
		t.Fatal("trading should start enabled")
	}

	m.Disable("kill switch")
	if m.TradingEnabled() {
		t.Fatal("Disable did not stick")
	}

	// Second disable is a no-op, and nothing turns it back on.
	m.Disable("again")
	m.RecordRealized(context.Background(), 500.0)
	m.SetMarkToMarket(context.Background(), 10000, 0)
	if m.TradingEnabled() {
		t.Fatal("trading re-enabled by account activity")
	}
}

func TestCashMovesOnFills(t *testing.T) {
	m := NewManager(nil, 10000)
	m.Debit(1500)
	m.Credit(200)
	if got := m.Cash(); got != 8700 {
		t.Errorf("Cash = %v, want 8700", got)
	}
}

func TestMarkToMarketAccountValue(t *testing.T) {
	m := NewManager(nil, 10000)
	m.SetMarkToMarket(context.Background(), 8000, 2500)
	s := m.Snapshot()
	if s.AccountValue != 10500 {
		t.Errorf("AccountValue = %v, want 10500", s.AccountValue)
	}
	if s.Cash != 8000 || s.PositionValue != 2500 {
		t.Errorf("cash/positions = %v/%v", s.Cash, s.PositionValue)
	}
}

func TestDayRolloverResetsDailyCounters(t *testing.T) {
	m := NewManager(nil, 10000)
	day := time.Date(2026, 2, 2, 20, 0, 0, 0, time.UTC)
	m.Clock = func() time.Time { return day }
	ctx := context.Background()

	m.RecordRealized(ctx, -300.0)
	m.Disable("daily loss limit")

	// Midnight passes while the process keeps running.
	day = day.Add(12 * time.Hour)
	m.RecordRealized(ctx, 50.0)

	s := m.Snapshot()
	if s.RealizedPnLToday != 50.0 || s.TradesToday != 1 {
		t.Errorf("post-rollover stats = %+v", s)
	}
	// The halt outlives the rollover; only a restart clears it.
	if s.TradingEnabled {
		t.Error("rollover re-enabled trading")
	}
}

func TestLoadRestoresSameDayStats(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	ctx := context.Background()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	m := NewManager(database, 10000)
	m.RecordRealized(ctx, 75.0)
	m.RecordRealized(ctx, -25.0)

	restarted := NewManager(database, 10000)
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	s := restarted.Snapshot()
	if s.RealizedPnLToday != 50.0 || s.TradesToday != 2 || s.WinningTrades != 1 {
		t.Errorf("restored stats = %+v", s)
	}
	// Restart restores the configured default: enabled.
	if !s.TradingEnabled {
		t.Error("restart should start with trading enabled")
	}
}
