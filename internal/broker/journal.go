package broker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal is a JSON-lines write-ahead log of the order lifecycle. An
// APPROVED entry lands on disk (fsynced) before the order reaches the
// broker; a RESOLVED entry follows once the result is known. After a
// crash the gap between the two is the set of orders whose fate is
// unknown, which Recover surfaces for audit. Recovered orders are
// never resubmitted: a duplicate fill costs real money, a missed one
// only a reconcile.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File

	written  uint64
	resolved uint64
	failed   uint64
}

type journalEntry struct {
	Action    string    `json:"action"` // "APPROVED" or "RESOLVED"
	Order     Order     `json:"order"`
	Result    *Result   `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewJournal opens (or creates) the order journal under dir.
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	path := filepath.Join(dir, "orders.wal")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, file: file}, nil
}

// Approved records an order before submission. The write is synced so
// the intent survives a crash mid-submit.
func (j *Journal) Approved(o Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("journal closed")
	}

	entry := journalEntry{Action: "APPROVED", Order: o, Timestamp: o.CreatedAt}
	data, err := json.Marshal(entry)
	if err != nil {
		j.failed++
		return fmt.Errorf("journal marshal: %w", err)
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		j.failed++
		return fmt.Errorf("journal write: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		j.failed++
		return fmt.Errorf("journal sync: %w", err)
	}
	j.written++
	return nil
}

// Resolved records the broker's verdict. Not synced; a lost RESOLVED
// line only costs a spurious audit warning on the next start.
func (j *Journal) Resolved(o Order, res Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return
	}

	entry := journalEntry{Action: "RESOLVED", Order: Order{ID: o.ID, Symbol: o.Symbol}, Result: &res, Timestamp: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		j.failed++
		return
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		j.failed++
		return
	}
	j.resolved++
}

// Recover scans the journal and returns orders left unresolved by a
// previous run. Callers log and audit; nothing is resubmitted. The
// journal is compacted down to the unresolved entries afterwards.
func (j *Journal) Recover() ([]Order, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal for recovery: %w", err)
	}
	defer file.Close()

	approved := make(map[string]Order)
	resolved := make(map[string]bool)
	var order []string // approval order, for stable output

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var entry journalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.Printf("⚠️ journal parse error (skipping): %v", err)
			continue
		}
		switch entry.Action {
		case "APPROVED":
			if _, seen := approved[entry.Order.ID]; !seen {
				order = append(order, entry.Order.ID)
			}
			approved[entry.Order.ID] = entry.Order
		case "RESOLVED":
			resolved[entry.Order.ID] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal scan: %w", err)
	}

	var unresolved []Order
	for _, id := range order {
		if !resolved[id] {
			unresolved = append(unresolved, approved[id])
		}
	}

	if len(unresolved) > 0 {
		log.Printf("⚠️ %d orders unresolved from previous run (audit only, not resubmitted)", len(unresolved))
		for _, o := range unresolved {
			log.Printf("⚠️   unresolved: %s %s %s notional=%.2f qty=%.4f at %s",
				o.ID, o.Side, o.Symbol, o.Notional, o.Qty, o.CreatedAt.Format(time.RFC3339))
		}
	}

	if len(unresolved) > 0 || len(resolved) > 10 {
		if err := j.compact(unresolved); err != nil {
			log.Printf("⚠️ journal compaction failed: %v", err)
		}
	}

	return unresolved, nil
}

// compact rewrites the journal with only the unresolved entries.
func (j *Journal) compact(unresolved []Order) error {
	tempPath := j.path + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(tempFile)
	for _, o := range unresolved {
		entry := journalEntry{Action: "APPROVED", Order: o, Timestamp: o.CreatedAt}
		if err := encoder.Encode(entry); err != nil {
			tempFile.Close()
			os.Remove(tempPath)
			return err
		}
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return err
	}
	tempFile.Close()

	if j.file != nil {
		j.file.Close()
	}
	if err := os.Rename(tempPath, j.path); err != nil {
		return err
	}
	j.file, err = os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	log.Printf("✓ journal compacted: kept %d unresolved entries", len(unresolved))
	return nil
}

// Metrics reports journal counters.
func (j *Journal) Metrics() (written, resolved, failed uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written, j.resolved, j.failed
}

// Close syncs and closes the journal file.
func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		j.file.Sync()
		j.file.Close()
		j.file = nil
	}
}
