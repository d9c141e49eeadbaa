package execution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hftbacktester/internal/engine/types"
)

// TraceEntry is an immutable record of one order's journey through the
// matching engine, enough to audit or diff a shadow-trading run against a
// later backtest of the same period without re-deriving it from logs
// (§4.6 "Decision trace (enrichment)").
type TraceEntry struct {
	Sequence   uint64           `json:"seq"`
	RecordedAt time.Time        `json:"recorded_at"`
	OrderID    uint64           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Direction  types.Direction  `json:"direction"`
	Quantity   float64          `json:"quantity"`
	Outcome    string           `json:"outcome"` // "filled", "partial", or the failure reason: "NOT_FILLED", "NO_LIQUIDITY", "INVALID_ORDER"
	FillPrice  float64          `json:"fill_price,omitempty"`
	Commission float64          `json:"commission,omitempty"`
	Remaining  float64          `json:"remaining,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// TraceStore is an append-only, JSON-line-backed decision trace, grounded on
// the teacher's libs/replay/replay.go TraceStore. Every Append is one atomic
// file write; the store is safe for concurrent use.
type TraceStore struct {
	mu   sync.Mutex
	path string
	seq  uint64
}

const traceFile = "execution_decisions.jsonl"

// OpenTraceStore opens (or creates) a trace store in dir.
func OpenTraceStore(dir string) (*TraceStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("execution.OpenTraceStore: mkdir: %w", err)
	}
	ts := &TraceStore{path: filepath.Join(dir, traceFile)}
	entries, err := ts.ReadAll()
	if err != nil {
		return nil, err
	}
	ts.seq = uint64(len(entries))
	return ts, nil
}

// Append records one order-matching decision. Sequence and RecordedAt are
// assigned by the store.
func (ts *TraceStore) Append(entry TraceEntry) (TraceEntry, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.seq++
	entry.Sequence = ts.seq
	entry.RecordedAt = time.Now().UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		ts.seq--
		return TraceEntry{}, fmt.Errorf("execution.TraceStore.Append: marshal: %w", err)
	}

	f, err := os.OpenFile(ts.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		ts.seq--
		return TraceEntry{}, fmt.Errorf("execution.TraceStore.Append: open: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n", data); err != nil {
		ts.seq--
		return TraceEntry{}, fmt.Errorf("execution.TraceStore.Append: write: %w", err)
	}
	return entry, nil
}

// ReadAll reads all entries from the store in append order.
func (ts *TraceStore) ReadAll() ([]TraceEntry, error) {
	data, err := os.ReadFile(ts.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("execution.TraceStore.ReadAll: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	entries := make([]TraceEntry, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e TraceEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("execution.TraceStore.ReadAll: line %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
