package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a broker backed by Redis pub/sub. Delivery is at-most-once:
// envelopes published while nobody is subscribed are lost.
type Redis struct {
	client     redis.UniversalClient
	ownsClient bool
	opts       options

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	return &Redis{
		client: client,
		opts:   buildOptions(opts),
		subs:   make(map[*redisSub]struct{}),
	}
}

// DialRedis connects to a Redis server and verifies it with PING.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...Option) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("broker: redis backend requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: connect to redis at %s: %w", addr, err)
	}
	r := NewRedis(client, opts...)
	r.ownsClient = true
	return r, nil
}

func (r *Redis) channel(topic string) string {
	return r.opts.prefix + topic
}

// Publish sends env on the topic channel.
func (r *Redis) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := r.client.Publish(ctx, r.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("broker: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to the topic channel and waits for the server to
// confirm before returning, so envelopes published afterwards are seen.
func (r *Redis) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("broker: nil handler for %s", topic)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	ps := r.client.Subscribe(ctx, r.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broker: subscribe %s: %w", topic, err)
	}

	s := &redisSub{broker: r, topic: topic, ps: ps}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	go s.run(ps.Channel(redis.WithChannelSize(r.opts.buffer)), handler)
	return s, nil
}

// Close closes every subscription and, for a dialled client, the
// connection pool.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSub, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[*redisSub]struct{})
	r.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.ownsClient {
		if err := r.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type redisSub struct {
	broker *Redis
	topic  string
	ps     *redis.PubSub
	once   sync.Once
	err    error
}

func (s *redisSub) run(ch <-chan *redis.Message, handler Handler) {
	for msg := range ch {
		env, err := decode([]byte(msg.Payload))
		if err != nil {
			s.broker.opts.logger.Warn("skipping malformed envelope",
				"topic", s.topic,
				"error", err.Error(),
			)
			continue
		}
		handler(env)
	}
}

func (s *redisSub) close() error {
	s.once.Do(func() { s.err = s.ps.Close() })
	return s.err
}

func (s *redisSub) Topic() string { return s.topic }

func (s *redisSub) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()
	return s.close()
}
