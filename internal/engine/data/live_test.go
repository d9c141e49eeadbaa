package data

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hftbacktester/internal/engine/types"
)

type collectingPublisher struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *collectingPublisher) Publish(ev types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *collectingPublisher) statusKinds() []types.DataSourceStatusKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.DataSourceStatusKind
	for _, ev := range p.events {
		if ev.Kind == types.KindDataSourceStatus {
			out = append(out, ev.DataSourceStatus.Status)
		}
	}
	return out
}

func instantSleep(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestLiveHandler_ExhaustsReconnectThenActivatesFallback(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir)

	pub := &collectingPublisher{}
	cfg := LiveConfig{Host: "example.invalid", Port: 1, Target: "/ws", Symbols: []string{"AAPL"}, MaxReconnectAttempts: 3}
	cfg.sleep = instantSleep
	h := NewLiveHandler(cfg, pub, dir, nil)

	alwaysFail := func(ctx context.Context, url string) (*websocket.Conn, error) {
		return nil, errors.New("dial refused")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Start(ctx, alwaysFail)

	deadline := time.After(1 * time.Second)
	for !h.FallbackActive() {
		select {
		case <-deadline:
			t.Fatal("fallback never activated")
		case <-time.After(5 * time.Millisecond):
		}
	}

	found := false
	for _, k := range pub.statusKinds() {
		if k == types.DataSourceFallback {
			found = true
		}
	}
	if !found {
		t.Error("expected a DataSourceStatus(FALLBACK_ACTIVE) event to be published")
	}

	for !h.IsFinished() {
		if _, err := h.Update(ctx); err != nil {
			t.Fatalf("Update via fallback: %v", err)
		}
	}
}

func writeCSVFixture(t *testing.T, dir string) {
	t.Helper()
	trade := "datetime,trade_id,price,qty,timestamp_ms,is_buyer_maker\n2024-01-01,1,100.0,1,1000,false\n"
	book := "timestamp_s,side,price,quantity\n1,BID,99.5,10\n1,ASK,100.5,10\n"
	mustWrite(t, dir+"/AAPL.csv", trade)
	mustWrite(t, dir+"/AAPL_book.csv", book)
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestApplyLevels_DeletesZeroQuantityAndSortsBySide(t *testing.T) {
	existing := []types.OrderBookLevel{{Price: 100, Quantity: 5}, {Price: 99, Quantity: 3}}
	updates := [][2]jsonString{
		{mustDecimal("100"), mustDecimal("0")}, // delete
		{mustDecimal("98"), mustDecimal("7")},  // insert
	}
	out := applyLevels(existing, updates, true)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Price != 99 || out[1].Price != 98 {
		t.Errorf("bids not sorted descending: %+v", out)
	}
}

func TestWireFrame_ParsesStringAndNumericFields(t *testing.T) {
	raw := []byte(`{"e":"trade","s":"AAPL","T":1000,"p":"101.25","q":"3.5","m":false}`)
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	price, _ := f.Price.Float64()
	if price != 101.25 {
		t.Errorf("price = %v, want 101.25", price)
	}
}

func mustDecimal(s string) jsonString {
	var j jsonString
	_ = json.Unmarshal([]byte(`"`+s+`"`), &j)
	return j
}
