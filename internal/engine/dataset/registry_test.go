package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	dir := t.TempDir()
	tradePath := writeCSV(t, dir, "AAPL.csv", "datetime,trade_id,price,qty,timestamp_ms,is_buyer_maker\n2024-01-01,1,100.0,1,1000,false\n")
	bookPath := writeCSV(t, dir, "AAPL_book.csv", "timestamp_s,side,price,quantity\n1,BID,99.5,10\n")

	r, err := Open(filepath.Join(dir, "catalog"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	src, err := r.Register("AAPL", tradePath, bookPath)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if src.TradeRows != 1 || src.BookRows != 1 {
		t.Errorf("row counts = %+v, want 1 and 1", src)
	}

	got, err := r.Get(src.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", got.Symbol)
	}

	bySymbol, err := r.GetBySymbol("AAPL")
	if err != nil || bySymbol.ID != src.ID {
		t.Errorf("GetBySymbol = %+v, %v; want id=%s", bySymbol, err, src.ID)
	}
}

func TestRegistry_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	catalogDir := filepath.Join(dir, "catalog")
	tradePath := writeCSV(t, dir, "AAPL.csv", "datetime,trade_id,price,qty,timestamp_ms,is_buyer_maker\n2024-01-01,1,100.0,1,1000,false\n")

	r1, err := Open(catalogDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	src, err := r1.Register("AAPL", tradePath, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	r2, err := Open(catalogDir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := r2.Get(src.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.TradeHash != src.TradeHash {
		t.Errorf("hash did not survive a reopen: got %q, want %q", got.TradeHash, src.TradeHash)
	}
}

func TestRegistry_VerifyHashDetectsChangedFile(t *testing.T) {
	dir := t.TempDir()
	tradePath := writeCSV(t, dir, "AAPL.csv", "datetime,trade_id,price,qty,timestamp_ms,is_buyer_maker\n2024-01-01,1,100.0,1,1000,false\n")

	r, err := Open(filepath.Join(dir, "catalog"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	src, err := r.Register("AAPL", tradePath, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.VerifyHash(src.ID); err != nil {
		t.Fatalf("VerifyHash on an untouched file: %v", err)
	}

	if err := os.WriteFile(tradePath, []byte("datetime,trade_id,price,qty,timestamp_ms,is_buyer_maker\n2024-01-01,1,999.0,1,1000,false\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := r.VerifyHash(src.ID); err == nil {
		t.Fatal("expected VerifyHash to detect the changed file contents")
	}
}

func TestRegistry_EmptySymbolRejected(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Register("", "x.csv", ""); err == nil {
		t.Fatal("expected an error for an empty symbol")
	}
}
