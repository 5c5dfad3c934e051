// Package notify fans queue snapshots out to presentation subscribers.
//
// Each subscriber has its own bounded buffer. Publish never blocks: when a
// buffer is full the oldest pending snapshot is discarded and the
// subscription is marked lagged, which tells the consumer to re-fetch the
// current snapshot instead of trusting what it has. Snapshots whose version
// is not newer than the last one published are dropped, so every subscriber
// sees strictly increasing versions.
//
// Nothing is persisted. A snapshot published with no subscribers is gone;
// new subscribers fetch the current state from the mediator on attach.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/event"
)

// DefaultBuffer is used when Subscribe is given a non-positive size.
const DefaultBuffer = 16

// Channel delivers snapshots to every current subscriber.
type Channel struct {
	mu          sync.Mutex
	subs        map[uint64]*Subscription
	nextID      uint64
	lastVersion uint64
	published   bool
	closed      bool
}

// New creates an empty Channel.
func New() *Channel {
	return &Channel{subs: make(map[uint64]*Subscription)}
}

// Subscription receives snapshots in publish order.
type Subscription struct {
	id      uint64
	ch      chan action.Snapshot
	lagged  atomic.Bool
	channel *Channel
	once    sync.Once
}

// C returns the receive side of the subscription. It is closed by Close or
// when the Channel closes.
func (s *Subscription) C() <-chan action.Snapshot {
	return s.ch
}

// Lagged reports whether snapshots were discarded since the last call, and
// clears the flag.
func (s *Subscription) Lagged() bool {
	return s.lagged.Swap(false)
}

// Close detaches the subscription and closes its channel. It is safe to call
// more than once.
func (s *Subscription) Close() {
	s.channel.remove(s)
}

// Subscribe attaches a new subscriber with the given buffer size.
func (c *Channel) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &Subscription{
		id:      c.nextID,
		ch:      make(chan action.Snapshot, buffer),
		channel: c,
	}
	if c.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	c.subs[sub.id] = sub
	return sub
}

// Publish delivers snap to every subscriber without blocking. It returns
// false when snap was dropped as stale.
func (c *Channel) Publish(snap action.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if c.published && snap.Version <= c.lastVersion {
		return false
	}
	c.published = true
	c.lastVersion = snap.Version

	for _, sub := range c.subs {
		deliver(sub, snap.Clone())
	}
	return true
}

// deliver sends to sub, replacing the oldest pending snapshot when the buffer
// is full. Callers hold c.mu, so no other sender races for the freed slot.
func deliver(sub *Subscription, snap action.Snapshot) {
	select {
	case sub.ch <- snap:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	sub.lagged.Store(true)
	select {
	case sub.ch <- snap:
	default:
	}
}

// LastVersion returns the version of the last accepted snapshot.
func (c *Channel) LastVersion() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastVersion, c.published
}

// SubscriberCount returns the number of attached subscribers.
func (c *Channel) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close detaches and closes every subscription. Later publishes are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, sub := range c.subs {
		delete(c.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (c *Channel) remove(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subs, sub.id)
	sub.once.Do(func() { close(sub.ch) })
}

// Attach forwards every queue.changed event on bus to c and returns the bus
// subscription id.
func (c *Channel) Attach(bus *event.Bus) string {
	return bus.Subscribe(event.TypeQueueChanged, func(e event.Event) {
		if changed, ok := e.(event.QueueChangedEvent); ok {
			c.Publish(changed.Snapshot)
		}
	})
}
