package bus

import (
	"context"
	"errors"
	"testing"

	"hftbacktester/internal/engine/types"
)

func TestBus_PublishDrainFIFO(t *testing.T) {
	b := New(0) // zero uses DefaultCapacity
	trades := []float64{1, 2, 3}
	for _, p := range trades {
		ev := types.NewTradeEvent(types.Trade{Symbol: "AAPL", Price: p})
		if err := b.Publish(ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	for _, want := range trades {
		ev, ok := b.TryDrainNext()
		if !ok {
			t.Fatal("expected an event")
		}
		if ev.Trade.Price != want {
			t.Errorf("price = %v, want %v (FIFO order broken)", ev.Trade.Price, want)
		}
	}
	if _, ok := b.TryDrainNext(); ok {
		t.Error("expected empty queue after draining everything published")
	}
}

func TestBus_PublishAfterCloseFails(t *testing.T) {
	b := New(8)
	b.Close()
	if !b.Closed() {
		t.Fatal("expected Closed() true")
	}
	if err := b.Publish(types.Event{}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Publish after Close = %v, want ErrBusClosed", err)
	}
}

func TestBus_DrainNextUnblocksOnCloseWhenEmpty(t *testing.T) {
	b := New(8)
	done := make(chan struct{})
	go func() {
		_, ok := b.DrainNext()
		if ok {
			t.Error("expected DrainNext to report no event once closed and empty")
		}
		close(done)
	}()
	b.Close()
	<-done
}

type recordingConsumer struct {
	name    string
	seen    []types.Event
	failOn  int
	calls   int
	failErr error
	log     *[]string
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) HandleEvent(ctx context.Context, ev types.Event) error {
	c.calls++
	c.seen = append(c.seen, ev)
	if c.log != nil {
		*c.log = append(*c.log, c.name)
	}
	if c.failOn != 0 && c.calls == c.failOn {
		if c.failErr != nil {
			return c.failErr
		}
		panic("boom")
	}
	return nil
}

func TestDispatcher_DeliversInRegistrationOrder(t *testing.T) {
	var order []string
	first := &recordingConsumer{name: "strategies", log: &order}
	second := &recordingConsumer{name: "portfolio", log: &order}
	b := New(8)
	d := NewDispatcher(b, first, second)

	ev := types.NewTradeEvent(types.Trade{Symbol: "AAPL"})
	d.DispatchOne(context.Background(), ev)

	if len(first.seen) != 1 || len(second.seen) != 1 {
		t.Fatal("expected both consumers to receive the event")
	}
	if len(order) != 2 || order[0] != "strategies" || order[1] != "portfolio" {
		t.Errorf("delivery order = %v, want [strategies portfolio]", order)
	}
}

func TestDispatcher_RecoversFromPanicAndReportsFailure(t *testing.T) {
	c := &recordingConsumer{name: "risk", failOn: 1}
	b := New(8)
	d := NewDispatcher(b, c)

	var failedConsumer string
	d.OnConsumerFailure = func(consumerName string, ev types.Event, err error) {
		failedConsumer = consumerName
	}

	// Must not panic out of DispatchOne.
	d.DispatchOne(context.Background(), types.Event{})
	if failedConsumer != "risk" {
		t.Errorf("OnConsumerFailure consumer = %q, want %q", failedConsumer, "risk")
	}
}

func TestDispatcher_ReportsReturnedError(t *testing.T) {
	wantErr := errors.New("bad fill")
	c := &recordingConsumer{name: "execution", failOn: 1, failErr: wantErr}
	b := New(8)
	d := NewDispatcher(b, c)

	var gotErr error
	d.OnConsumerFailure = func(consumerName string, ev types.Event, err error) {
		gotErr = err
	}
	d.DispatchOne(context.Background(), types.Event{})
	if !errors.Is(gotErr, wantErr) {
		t.Errorf("reported error = %v, want %v", gotErr, wantErr)
	}
}

func TestDispatcher_DrainAvailableStopsAtEmptyQueue(t *testing.T) {
	c := &recordingConsumer{name: "portfolio"}
	b := New(8)
	d := NewDispatcher(b, c)

	for i := 0; i < 3; i++ {
		if err := b.Publish(types.NewTradeEvent(types.Trade{Symbol: "AAPL"})); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	d.DrainAvailable(context.Background())
	if c.calls != 3 {
		t.Fatalf("calls = %d, want 3", c.calls)
	}
	// Nothing left queued; a second DrainAvailable should be a no-op.
	d.DrainAvailable(context.Background())
	if c.calls != 3 {
		t.Errorf("calls after second drain = %d, want still 3", c.calls)
	}
}

func TestDispatcher_RunFlushesUntilClosed(t *testing.T) {
	c := &recordingConsumer{name: "portfolio"}
	b := New(8)
	d := NewDispatcher(b, c)

	if err := b.Publish(types.NewTradeEvent(types.Trade{Symbol: "AAPL"})); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	b.Close()

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	<-done
	if c.calls != 1 {
		t.Fatalf("calls = %d, want 1", c.calls)
	}
}
