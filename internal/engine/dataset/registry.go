// Package dataset provides content-hash-verified cataloguing of the CSV
// files backing a backtest run, so a run can be reproduced later against the
// exact bytes it was first run against.
//
// Adapted from the teacher's libs/dataset/registry.go, trimmed from a single
// OHLCV file per dataset to the trade/book CSV pair this engine's
// file-backed DataHandler actually reads (§4.2), keyed by symbol rather than
// a generated dataset name.
package dataset

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const schemaVer = "trade_book_csv_v1"

const catalogFile = "catalog.json"

// Source describes one symbol's catalogued trade/book CSV pair.
type Source struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	TradePath  string    `json:"trade_path"`
	BookPath   string    `json:"book_path"`
	TradeHash  string    `json:"trade_hash"`
	BookHash   string    `json:"book_hash"`
	SchemaVer  string    `json:"schema_ver"`
	TradeRows  int       `json:"trade_rows"`
	BookRows   int       `json:"book_rows"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is a thread-safe store of Source records persisted as JSON.
type Registry struct {
	mu      sync.RWMutex
	dir     string
	sources map[string]Source
}

// Open loads (or creates) a Registry backed by dir.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dataset.Open: mkdir %q: %w", dir, err)
	}
	r := &Registry{dir: dir, sources: make(map[string]Source)}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register hashes tradePath and bookPath, assigns a UUID, and persists the
// entry. bookPath may be empty for a trades-only symbol.
func (r *Registry) Register(symbol, tradePath, bookPath string) (Source, error) {
	if symbol == "" {
		return Source{}, fmt.Errorf("dataset.Register: symbol must not be empty")
	}
	tradeHash, tradeRows, err := hashAndCountCSV(tradePath)
	if err != nil {
		return Source{}, fmt.Errorf("dataset.Register: trade file %q: %w", tradePath, err)
	}
	var bookHash string
	var bookRows int
	if bookPath != "" {
		bookHash, bookRows, err = hashAndCountCSV(bookPath)
		if err != nil {
			return Source{}, fmt.Errorf("dataset.Register: book file %q: %w", bookPath, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := Source{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		TradePath:    tradePath,
		BookPath:     bookPath,
		TradeHash:    tradeHash,
		BookHash:     bookHash,
		SchemaVer:    schemaVer,
		TradeRows:    tradeRows,
		BookRows:     bookRows,
		RegisteredAt: time.Now().UTC(),
	}
	r.sources[s.ID] = s
	if err := r.save(); err != nil {
		delete(r.sources, s.ID)
		return Source{}, fmt.Errorf("dataset.Register: persist: %w", err)
	}
	return s, nil
}

// Get returns the Source with the given ID.
func (r *Registry) Get(id string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return Source{}, fmt.Errorf("dataset.Get: id %q not found", id)
	}
	return s, nil
}

// GetBySymbol returns the first Source registered for symbol.
func (r *Registry) GetBySymbol(symbol string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var first Source
	found := false
	for _, s := range r.sources {
		if s.Symbol == symbol && (!found || s.RegisteredAt.Before(first.RegisteredAt)) {
			first, found = s, true
		}
	}
	if !found {
		return Source{}, fmt.Errorf("dataset.GetBySymbol: %q not found", symbol)
	}
	return first, nil
}

// VerifyHash re-hashes the catalogued files and fails if either has changed
// since registration, which would invalidate run reproducibility.
func (r *Registry) VerifyHash(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	tradeHash, _, err := hashAndCountCSV(s.TradePath)
	if err != nil {
		return fmt.Errorf("dataset.VerifyHash: %w", err)
	}
	if tradeHash != s.TradeHash {
		return fmt.Errorf("dataset.VerifyHash: id=%s trade file changed (registered=%s current=%s)",
			id, s.TradeHash[:12], tradeHash[:12])
	}
	if s.BookPath != "" {
		bookHash, _, err := hashAndCountCSV(s.BookPath)
		if err != nil {
			return fmt.Errorf("dataset.VerifyHash: %w", err)
		}
		if bookHash != s.BookHash {
			return fmt.Errorf("dataset.VerifyHash: id=%s book file changed (registered=%s current=%s)",
				id, s.BookHash[:12], bookHash[:12])
		}
	}
	return nil
}

func (r *Registry) catalogPath() string {
	return filepath.Join(r.dir, catalogFile)
}

func (r *Registry) load() error {
	f, err := os.Open(r.catalogPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dataset: open catalog: %w", err)
	}
	defer f.Close()

	var list []Source
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return fmt.Errorf("dataset: decode catalog: %w", err)
	}
	for _, s := range list {
		r.sources[s.ID] = s
	}
	return nil
}

func (r *Registry) save() error {
	list := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		list = append(list, s)
	}
	slices.SortFunc(list, func(a, b Source) int {
		return a.RegisteredAt.Compare(b.RegisteredAt)
	})

	tmp := r.catalogPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("dataset: create catalog tmp: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("dataset: encode catalog: %w", err)
	}
	f.Close()
	if err := os.Rename(tmp, r.catalogPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dataset: rename catalog: %w", err)
	}
	return nil
}

// hashAndCountCSV reads the file, computes its SHA-256 hex digest, and
// counts non-header rows.
func hashAndCountCSV(path string) (hash string, rows int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	reader := csv.NewReader(io.TeeReader(f, h))
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return "", 0, fmt.Errorf("read CSV header: %w", err)
	}
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
		rows++
	}
	return hex.EncodeToString(h.Sum(nil)), rows, nil
}
