package broker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJournalRecoverReportsUnresolved(t *testing.T) {
	dir := t.TempDir()

	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	o1 := Order{ID: "o-1", Symbol: "AAPL", Side: SideBuy, Notional: 1000, CreatedAt: orderTime}
	o2 := Order{ID: "o-2", Symbol: "TSLA", Side: SideSell, Qty: 5, CreatedAt: orderTime}
	if err := j.Approved(o1); err != nil {
		t.Fatalf("Approved: %v", err)
	}
	if err := j.Approved(o2); err != nil {
		t.Fatalf("Approved: %v", err)
	}
	j.Resolved(o1, Result{OrderID: "o-1", Accepted: true, FillPrice: 100, FilledQty: 10})
	j.Close()

	// Restart: o-2 never got a RESOLVED line.
	j2, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j2.Close()
	unresolved, err := j2.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(unresolved) != 1 {
		t.Fatalf("got %d unresolved, expected 1: %+v", len(unresolved), unresolved)
	}
	got := unresolved[0]
	if got.ID != "o-2" || got.Symbol != "TSLA" || got.Qty != 5 {
		t.Errorf("unresolved order = %+v", got)
	}
}

func TestJournalCleanShutdownRecoversNothing(t *testing.T) {
	dir := t.TempDir()

	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	o := Order{ID: "o-1", Symbol: "AAPL", Side: SideBuy, Notional: 1000, CreatedAt: orderTime}
	if err := j.Approved(o); err != nil {
		t.Fatalf("Approved: %v", err)
	}
	j.Resolved(o, Result{OrderID: "o-1", Accepted: true})
	j.Close()

	j2, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j2.Close()
	unresolved, err := j2.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(unresolved) != 0 {
		t.Fatalf("got %d unresolved after clean shutdown: %+v", len(unresolved), unresolved)
	}
}

func TestJournalEmptyRecover(t *testing.T) {
	j, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	unresolved, err := j.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if unresolved != nil {
		t.Fatalf("unresolved = %+v, expected nil", unresolved)
	}
}

func TestJournalSkipsGarbageLines(t *testing.T) {
	dir := t.TempDir()

	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	if err := j.Approved(Order{ID: "o-1", Symbol: "AAPL", Side: SideBuy, Notional: 100, CreatedAt: orderTime}); err != nil {
		t.Fatalf("Approved: %v", err)
	}
	j.Close()

	// Simulate a torn write at the tail.
	path := filepath.Join(dir, "orders.wal")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if _, err := f.WriteString(`{"action":"APPRO`); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	f.Close()

	j2, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j2.Close()
	unresolved, err := j2.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].ID != "o-1" {
		t.Fatalf("unresolved = %+v, expected just o-1", unresolved)
	}
}

func TestJournalCompaction(t *testing.T) {
	dir := t.TempDir()

	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	resolved := Order{ID: "done", Symbol: "AAPL", Side: SideBuy, Notional: 100, CreatedAt: orderTime}
	pending := Order{ID: "pending", Symbol: "TSLA", Side: SideBuy, Notional: 200, CreatedAt: orderTime}
	if err := j.Approved(resolved); err != nil {
		t.Fatalf("Approved: %v", err)
	}
	j.Resolved(resolved, Result{OrderID: "done", Accepted: true})
	if err := j.Approved(pending); err != nil {
		t.Fatalf("Approved: %v", err)
	}
	if _, err := j.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	j.Close()

	// Post-compaction the log holds only the pending entry.
	data, err := os.ReadFile(filepath.Join(dir, "orders.wal"))
	if err != nil {
		t.Fatalf("read wal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("wal has %d lines after compaction, expected 1:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"pending"`) {
		t.Errorf("compacted wal = %s", lines[0])
	}
}
