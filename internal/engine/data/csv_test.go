package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestParseTradeCSV_SortsByTimestampAndMapsAggressor(t *testing.T) {
	path := writeFixture(t, "trades.csv", ""+
		"datetime,trade_id,price,qty,timestamp_ms,is_buyer_maker\n"+
		"2024-01-01,2,101.0,2,2000,true\n"+
		"2024-01-01,1,100.0,1,1000,false\n")

	trades, err := ParseTradeCSV(context.Background(), path, "AAPL")
	if err != nil {
		t.Fatalf("ParseTradeCSV: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("len = %d, want 2", len(trades))
	}
	if trades[0].Timestamp != 1000 || trades[1].Timestamp != 2000 {
		t.Errorf("not sorted by timestamp ascending: %+v", trades)
	}
	if trades[0].Aggressor != "BUY" {
		t.Errorf("is_buyer_maker=false should map to a buy aggressor, got %v", trades[0].Aggressor)
	}
	if trades[1].Aggressor != "SELL" {
		t.Errorf("is_buyer_maker=true should map to a sell aggressor, got %v", trades[1].Aggressor)
	}
}

func TestParseTradeCSV_MissingColumnFails(t *testing.T) {
	path := writeFixture(t, "bad.csv", "datetime,trade_id,price,qty\n2024-01-01,1,100.0,1\n")
	if _, err := ParseTradeCSV(context.Background(), path, "AAPL"); err == nil {
		t.Fatal("expected an error for a CSV missing timestamp_ms/is_buyer_maker")
	}
}

func TestParseTradeCSV_SkipsMalformedRowsAndKeepsTheRest(t *testing.T) {
	path := writeFixture(t, "partial.csv", ""+
		"datetime,trade_id,price,qty,timestamp_ms,is_buyer_maker\n"+
		"2024-01-01,1,100.0,1,1000,false\n"+
		"2024-01-01,2,not-a-price,1,2000,false\n"+
		"2024-01-01,3,102.0,1,3000,false\n")

	trades, err := ParseTradeCSV(context.Background(), path, "AAPL")
	if err != nil {
		t.Fatalf("ParseTradeCSV: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("len = %d, want 2 (malformed row skipped, not fatal)", len(trades))
	}
	if trades[0].Timestamp != 1000 || trades[1].Timestamp != 3000 {
		t.Errorf("unexpected rows survived: %+v", trades)
	}
}

func TestParseBookCSV_GroupsRowsSharingATimestampIntoOneSnapshot(t *testing.T) {
	path := writeFixture(t, "book.csv", ""+
		"timestamp_s,side,price,quantity\n"+
		"1,BID,99.5,10\n"+
		"1,ASK,100.5,10\n"+
		"1,BID,99.0,5\n"+
		"2,BID,98.0,3\n"+
		"2,ASK,101.0,3\n")

	books, err := ParseBookCSV(context.Background(), path, "AAPL")
	if err != nil {
		t.Fatalf("ParseBookCSV: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("len = %d, want 2 snapshots", len(books))
	}
	first := books[0]
	if len(first.Bids) != 2 || len(first.Asks) != 1 {
		t.Fatalf("first snapshot = %+v, want 2 bids and 1 ask", first)
	}
	if first.Bids[0].Price != 99.5 || first.Bids[1].Price != 99.0 {
		t.Errorf("bids not sorted descending: %+v", first.Bids)
	}
}

func TestParseBookCSV_SkipsMalformedRowsAndKeepsTheRest(t *testing.T) {
	path := writeFixture(t, "partial_book.csv", ""+
		"timestamp_s,side,price,quantity\n"+
		"1,BID,99.5,10\n"+
		"1,ASK,not-a-price,10\n"+
		"2,BID,98.0,3\n")

	books, err := ParseBookCSV(context.Background(), path, "AAPL")
	if err != nil {
		t.Fatalf("ParseBookCSV: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("len = %d, want 2 snapshots (malformed row skipped, not fatal)", len(books))
	}
	if len(books[0].Asks) != 0 {
		t.Errorf("malformed ask row should have been dropped, got %+v", books[0].Asks)
	}
}
