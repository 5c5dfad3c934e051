package event

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/walletgate/internal/errors"
	"github.com/Iron-Ham/walletgate/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// wildcard is the subscription key for handlers that receive every event.
const wildcard = "*"

type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a synchronous pub-sub event bus. Handlers run on the publishing
// goroutine, so publishers must not hold locks that handlers may need.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	logger        *logging.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *logging.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates a new event bus. Handler panics are reported on stderr
// unless WithLogger is given.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]subscription),
		logger:        logging.NewWriterLogger(os.Stderr, logging.LevelError),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event type and returns an id
// for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by id and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers.
// Specific handlers run first, then wildcard handlers, each group in
// registration order. A panicking handler is logged and skipped, except
// for an *errors.InvariantViolation, which is logged and re-raised on the
// publishing goroutine.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	eventType := e.EventType()
	specific := append([]subscription(nil), b.subscriptions[eventType]...)
	all := append([]subscription(nil), b.subscriptions[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range all {
		b.safeCall(sub.handler, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			if err, ok := r.(error); ok {
				var violation *errors.InvariantViolation
				if errors.As(err, &violation) {
					panic(r)
				}
			}
		}
	}()
	handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}

// LogEvents subscribes a wildcard handler that writes every event to l at
// debug level. It returns the subscription id.
func LogEvents(b *Bus, l *logging.Logger) string {
	return b.SubscribeAll(func(e Event) {
		args := []any{"event_type", e.EventType()}
		switch ev := e.(type) {
		case QueueChangedEvent:
			args = append(args, "version", ev.Snapshot.Version, "depth", len(ev.Snapshot.Queue))
		case ActionEnqueuedEvent:
			args = append(args, "action_id", ev.ActionID, "position", ev.Position)
		case ActionPromotedEvent:
			args = append(args, "action_id", ev.ActionID)
		case ActionDecidedEvent:
			args = append(args, "action_id", ev.ActionID, "approved", ev.Approved, "surface", ev.Surface)
		case ActionResolvedEvent:
			args = append(args, "action_id", ev.Action.ID, "status", string(ev.Action.Status), "reason", ev.Action.Reason)
		case QueueInvalidatedEvent:
			args = append(args, "reason", ev.Reason, "count", ev.Count)
		case WalletLockedEvent:
			args = append(args, "address", ev.Address)
		case WalletUnlockedEvent:
			args = append(args, "address", ev.Address)
		}
		l.Debug("event", args...)
	})
}
