package broker

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process broker backed by buffered channels.
type Memory struct {
	opts options

	mu     sync.RWMutex
	subs   map[string]map[uint64]*memorySub
	nextID uint64
	closed bool
}

// NewMemory creates an in-process broker.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		opts: buildOptions(opts),
		subs: make(map[string]map[uint64]*memorySub),
	}
}

// Publish delivers env to every subscriber of topic. It blocks while a
// subscriber's buffer is full, until ctx is done.
func (m *Memory) Publish(ctx context.Context, topic string, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*memorySub, 0, len(m.subs[topic]))
	for _, s := range m.subs[topic] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- env:
		case <-s.done:
		case <-ctx.Done():
			return fmt.Errorf("broker: publish %s: %w", topic, ctx.Err())
		}
	}
	return nil
}

// Subscribe registers handler for topic.
func (m *Memory) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("broker: nil handler for %s", topic)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.nextID++
	s := &memorySub{
		broker: m,
		id:     m.nextID,
		topic:  topic,
		ch:     make(chan Envelope, m.opts.buffer),
		done:   make(chan struct{}),
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[uint64]*memorySub)
	}
	m.subs[topic][s.id] = s

	go s.run(handler)
	return s, nil
}

// SubscriberCount returns the number of subscriptions on topic.
func (m *Memory) SubscriberCount(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Close stops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memorySub
	for _, byID := range m.subs {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	m.subs = make(map[string]map[uint64]*memorySub)
	m.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	return nil
}

func (m *Memory) remove(s *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byID, ok := m.subs[s.topic]; ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(m.subs, s.topic)
		}
	}
}

type memorySub struct {
	broker *Memory
	id     uint64
	topic  string
	ch     chan Envelope
	done   chan struct{}
	once   sync.Once
}

func (s *memorySub) run(handler Handler) {
	for {
		select {
		case env := <-s.ch:
			handler(env)
		case <-s.done:
			return
		}
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySub) Topic() string { return s.topic }

func (s *memorySub) Close() error {
	s.broker.remove(s)
	s.stop()
	return nil
}
