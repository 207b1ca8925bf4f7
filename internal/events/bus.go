package events

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"examflow/internal/logging"
)

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id      uint64
	kinds   []Kind
	handler Handler
}

func (s subscription) wants(kind Kind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, kind)
}

// Bus is a synchronous publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
	logger *slog.Logger
}

// NewBus creates an event bus. Handler panics are logged to logger.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logging.NewComponentLogger(logger, "events")}
}

// Subscribe registers handler for every event kind and returns a function
// that removes it.
func (b *Bus) Subscribe(handler Handler) func() {
	return b.SubscribeKinds(handler)
}

// SubscribeKinds registers handler for the listed kinds only. An empty list
// subscribes to everything.
func (b *Bus) SubscribeKinds(handler Handler, kinds ...Kind) func() {
	if handler == nil {
		return func() {}
	}
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, kinds: slices.Clone(kinds), handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
}

// Publish delivers ev to every matching handler in registration order.
// Handlers run on the caller's goroutine.
func (b *Bus) Publish(ev Event) {
	if b == nil || ev == nil {
		return
	}
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	kind := ev.Kind()
	for _, sub := range subs {
		if sub.wants(kind) {
			b.safeCall(sub.handler, ev)
		}
	}
}

func (b *Bus) safeCall(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(b.logger, "event handler panicked", "event_handler_panic",
				logging.String(logging.FieldErrorHint, "fix the subscriber; remaining handlers still ran"),
				logging.String("event_kind", string(ev.Kind())),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	handler(ev)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stream forwards matching events to a buffered channel until ctx is done.
// Events are dropped when the buffer is full so the publisher never blocks;
// dropped counts them. The channel is closed after ctx ends.
func (b *Bus) Stream(ctx context.Context, buffer int, kinds ...Kind) (<-chan Event, *atomic.Int64) {
	if buffer <= 0 {
		buffer = 100
	}
	var (
		mu     sync.Mutex
		closed bool
	)
	out := make(chan Event, buffer)
	dropped := new(atomic.Int64)

	unsubscribe := b.SubscribeKinds(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- ev:
		default:
			dropped.Add(1)
		}
	}, kinds...)

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, dropped
}
