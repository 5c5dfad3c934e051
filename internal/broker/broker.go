package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Iron-Ham/walletgate/internal/logging"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker: closed")

// Handler receives envelopes for one subscription.
type Handler func(Envelope)

// Broker publishes envelopes to topics and delivers them to subscribers.
type Broker interface {
	// Publish delivers env to every current subscriber of topic.
	Publish(ctx context.Context, topic string, env Envelope) error
	// Subscribe registers handler for topic. Delivery starts once Subscribe
	// returns.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	// Close detaches every subscription and releases the transport.
	Close() error
}

// Subscription is an active registration on a topic.
type Subscription interface {
	// Topic returns the unprefixed topic name.
	Topic() string
	// Close stops delivery. It is safe to call more than once.
	Close() error
}

// Remover is implemented by backends that keep per-topic state which
// should be deleted when a private topic is abandoned.
type Remover interface {
	Remove(ctx context.Context, topic string) error
}

// Well-known topics.
const (
	TopicRequests  = "requests"
	TopicBroadcast = "broadcast"
)

// ReplyTopic returns the topic on which a client receives replies.
func ReplyTopic(clientID string) string {
	return "reply." + clientID
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Backends returns the valid backend names.
func Backends() []string {
	return []string{BackendMemory, BackendFile, BackendRedis}
}

// Defaults for Options.
const (
	DefaultPrefix       = "walletgate."
	DefaultBuffer       = 256
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxLogSize   = 4 << 20
)

// quietPolls is how many poll intervals a topic log must go without writes
// before the file backend may truncate it.
const quietPolls = 10

// Option configures a backend.
type Option func(*options)

type options struct {
	prefix       string
	buffer       int
	pollInterval time.Duration
	maxLogSize   int64
	logger       *logging.Logger
}

func buildOptions(opts []Option) options {
	o := options{
		prefix:       DefaultPrefix,
		buffer:       DefaultBuffer,
		pollInterval: DefaultPollInterval,
		maxLogSize:   DefaultMaxLogSize,
		logger:       logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPrefix sets the topic prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithBuffer sets the per-subscription buffer of the memory backend.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithPollInterval sets how often the file backend checks for new lines.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxLogSize sets the size at which the file backend truncates a topic
// log on the next publish after it has been idle for ten poll intervals.
// Zero disables truncation.
func WithMaxLogSize(n int64) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxLogSize = n
		}
	}
}

// WithLogger sets the logger used for dropped or malformed messages.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Settings selects and configures a backend for Open.
type Settings struct {
	Backend       string
	Prefix        string
	Dir           string // file backend
	PollInterval  time.Duration
	MaxLogSize    int64 // file backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open creates the backend named by s.Backend.
func Open(ctx context.Context, s Settings, logger *logging.Logger) (Broker, error) {
	opts := []Option{WithLogger(logger), WithPollInterval(s.PollInterval), WithMaxLogSize(s.MaxLogSize)}
	if s.Prefix != "" {
		opts = append(opts, WithPrefix(s.Prefix))
	}

	switch s.Backend {
	case BackendMemory:
		return NewMemory(opts...), nil
	case BackendFile, "":
		return NewFile(s.Dir, opts...)
	case BackendRedis:
		return DialRedis(ctx, s.RedisAddr, s.RedisPassword, s.RedisDB, opts...)
	default:
		return nil, fmt.Errorf("broker: unknown backend %q", s.Backend)
	}
}
