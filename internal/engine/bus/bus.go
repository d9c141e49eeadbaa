// Package bus implements the event bus and dispatcher: an ordered,
// multi-producer queue with a static, registration-order consumer table.
//
// The queue itself is a mutex+condition-variable bounded FIFO, the Go
// equivalent of the source's EventQueue (not its lock-free ThreadSafeQueue
// attempt — per the design notes, a standard bounded primitive is the
// reference implementation; a lock-free MPSC is not a correctness
// requirement). This is the single-threaded cooperative model (§4.1 variant
// a): the bus holds no goroutines of its own, and the driver loop pumps it.
package bus

import (
	"context"
	"errors"
	"sync"

	"hftbacktester/internal/engine/types"
	"hftbacktester/internal/observability"
)

// ErrBusClosed is returned by Publish once Close has been called.
var ErrBusClosed = errors.New("bus: closed")

// DefaultCapacity bounds the queue before Publish blocks the producer.
const DefaultCapacity = 4096

// Bus is an ordered, bounded, multi-producer event queue.
type Bus struct {
	capacity int

	mu       sync.Mutex
	queue    []types.Event
	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

// New creates a Bus with the given bounded capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{capacity: capacity}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Publish appends event to the queue in FIFO order. If the queue is at
// capacity, Publish blocks the caller (cooperative backpressure) until room
// frees up or the bus is closed. Publish after Close returns ErrBusClosed.
func (b *Bus) Publish(ev types.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.queue) >= b.capacity && !b.closed {
		b.notFull.Wait()
	}
	if b.closed {
		return ErrBusClosed
	}
	b.queue = append(b.queue, ev)
	b.notEmpty.Signal()
	return nil
}

// DrainNext blocks until an event is available or the bus is closed and
// empty, in which case it returns (Event{}, false).
func (b *Bus) DrainNext() (types.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.queue) == 0 && !b.closed {
		b.notEmpty.Wait()
	}
	if len(b.queue) == 0 {
		return types.Event{}, false
	}
	ev := b.queue[0]
	b.queue = b.queue[1:]
	b.notFull.Signal()
	return ev, true
}

// TryDrainNext is the non-blocking variant used by the single-threaded
// cooperative driver loop: it returns immediately with ok=false if the
// queue is currently empty, regardless of closed state.
func (b *Bus) TryDrainNext() (types.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return types.Event{}, false
	}
	ev := b.queue[0]
	b.queue = b.queue[1:]
	b.notFull.Signal()
	return ev, true
}

// Close marks the bus terminal. Subsequent Publish calls fail with
// ErrBusClosed; DrainNext unblocks and returns false once the queue drains.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len reports the current queue depth, for diagnostics and tests.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Consumer is any component that can handle a dispatched event. The
// dispatcher holds consumers in a static, registration-order list rather
// than letting the bus own them — this keeps ownership one-way (driver loop
// -> consumer), per the source's cyclic-ownership redesign note.
type Consumer interface {
	Name() string
	HandleEvent(ctx context.Context, ev types.Event) error
}

// Dispatcher delivers each drained event to every registered consumer, in
// registration order, catching both returned errors and panics so that one
// misbehaving consumer cannot corrupt bus state or stop the run.
type Dispatcher struct {
	bus       *Bus
	consumers []Consumer

	// OnConsumerFailure is called (if non-nil) whenever a consumer returns
	// an error or panics while handling an event. The guardrail health
	// monitor subscribes here to count failure streaks toward SystemHalt.
	OnConsumerFailure func(consumerName string, ev types.Event, err error)
}

// NewDispatcher creates a Dispatcher over bus with the given consumers
// registered in the order provided. Per §2, the canonical order is
// Strategies, then Portfolio, then RiskManager, then ExecutionHandler.
func NewDispatcher(b *Bus, consumers ...Consumer) *Dispatcher {
	return &Dispatcher{bus: b, consumers: append([]Consumer(nil), consumers...)}
}

// Register appends a consumer to the dispatch table.
func (d *Dispatcher) Register(c Consumer) {
	d.consumers = append(d.consumers, c)
}

// DispatchOne delivers ev to every registered consumer in order.
func (d *Dispatcher) DispatchOne(ctx context.Context, ev types.Event) {
	for _, c := range d.consumers {
		d.deliver(ctx, c, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, c Consumer, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.fail(c.Name(), ev, errFromRecover(r))
		}
	}()
	if err := c.HandleEvent(ctx, ev); err != nil {
		d.fail(c.Name(), ev, err)
	}
}

func (d *Dispatcher) fail(consumerName string, ev types.Event, err error) {
	observability.LogEvent(context.Background(), "error", "consumer_failure", map[string]any{
		"consumer": consumerName,
		"event":    ev.String(),
		"error":    err,
	})
	if d.OnConsumerFailure != nil {
		d.OnConsumerFailure(consumerName, ev, err)
	}
}

func errFromRecover(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New(stringifyRecover(r))
}

func stringifyRecover(r any) string {
	return "panic: " + errStringer(r)
}

func errStringer(r any) string {
	if s, ok := r.(string); ok {
		return s
	}
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "unknown panic value"
}

// DrainAvailable drains and dispatches every event currently queued, without
// blocking for more — the shape used by the single-threaded cooperative
// main loop between DataHandler.Update() calls.
func (d *Dispatcher) DrainAvailable(ctx context.Context) {
	for {
		ev, ok := d.bus.TryDrainNext()
		if !ok {
			return
		}
		d.DispatchOne(ctx, ev)
	}
}

// Run drains and dispatches until the bus is closed and empty. This is the
// shape used once the DataHandler has signalled exhaustion and producers
// are done, to flush any remaining events.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		ev, ok := d.bus.DrainNext()
		if !ok {
			return
		}
		d.DispatchOne(ctx, ev)
	}
}
