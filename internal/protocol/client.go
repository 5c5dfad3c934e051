package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/broker"
	"github.com/Iron-Ham/walletgate/internal/errors"
	"github.com/Iron-Ham/walletgate/internal/logging"
	"github.com/Iron-Ham/walletgate/internal/mediator"
)

// ErrClientClosed is returned by requests on a closed client.
var ErrClientClosed = errors.New("protocol: client closed")

const (
	defaultRequestTimeout = 10 * time.Second
	defaultOutcomePoll    = 2 * time.Second
)

// Client sends requests to a Server and follows its broadcasts.
type Client struct {
	broker         broker.Broker
	id             string
	logger         *logging.Logger
	requestTimeout time.Duration
	outcomePoll    time.Duration
	surface        string

	replySub broker.Subscription

	mu      sync.Mutex
	waiters map[string]chan broker.Envelope
	closed  bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestTimeout bounds requests whose context has no deadline.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithOutcomePoll sets how often WaitOutcome re-queries the server in case
// an outcome broadcast was missed.
func WithOutcomePoll(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.outcomePoll = d
		}
	}
}

// WithSurface names the surface recorded on this client's decisions.
func WithSurface(name string) ClientOption {
	return func(c *Client) { c.surface = name }
}

// NewClient subscribes to a private reply topic on b.
func NewClient(ctx context.Context, b broker.Broker, opts ...ClientOption) (*Client, error) {
	c := &Client{
		broker:         b,
		id:             uuid.NewString(),
		logger:         logging.NopLogger(),
		requestTimeout: defaultRequestTimeout,
		outcomePoll:    defaultOutcomePoll,
		waiters:        make(map[string]chan broker.Envelope),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("client").With("client_id", c.id)

	sub, err := b.Subscribe(ctx, c.replyTopic(), c.onReply)
	if err != nil {
		return nil, fmt.Errorf("protocol: subscribe to replies: %w", err)
	}
	c.replySub = sub
	return c, nil
}

// ID returns the client's unique id.
func (c *Client) ID() string { return c.id }

func (c *Client) replyTopic() string { return broker.ReplyTopic(c.id) }

func (c *Client) onReply(env broker.Envelope) {
	c.mu.Lock()
	ch, ok := c.waiters[env.CorrelationID]
	if ok {
		delete(c.waiters, env.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping uncorrelated reply", "correlation_id", env.CorrelationID)
		return
	}
	ch <- env
}

// request sends a request and decodes the correlated reply into out.
func (c *Client) request(ctx context.Context, t broker.MessageType, payload, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	env, err := broker.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	env.ReplyTo = c.replyTopic()

	ch := make(chan broker.Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.waiters[env.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.waiters, env.ID)
		c.mu.Unlock()
	}

	if err := c.broker.Publish(ctx, broker.TopicRequests, env); err != nil {
		forget()
		return fmt.Errorf("protocol: send %s: %w", t, err)
	}

	select {
	case reply := <-ch:
		if reply.Type == TypeErrorReply {
			var res Result
			if err := reply.Decode(&res); err != nil {
				return err
			}
			return res.Err()
		}
		return reply.Decode(out)
	case <-ctx.Done():
		forget()
		return fmt.Errorf("protocol: waiting for %s reply: %w", t, ctx.Err())
	}
}

// Enqueue submits an action and returns its id without waiting for the
// outcome.
func (c *Client) Enqueue(ctx context.Context, req action.NewActionRequest) (string, error) {
	var reply EnqueueReply
	if err := c.request(ctx, TypeEnqueueRequest, req, &reply); err != nil {
		return "", err
	}
	if err := reply.Err(); err != nil {
		return "", err
	}
	return reply.ID, nil
}

// Decide approves or rejects the action in decision.
func (c *Client) Decide(ctx context.Context, id string, approved bool) error {
	var reply DecisionReply
	req := DecisionRequest{ID: id, Approved: approved, Surface: c.surface}
	if err := c.request(ctx, TypeDecisionRequest, req, &reply); err != nil {
		return err
	}
	return reply.Err()
}

// Snapshot fetches the current queue with the gate result for its head.
func (c *Client) Snapshot(ctx context.Context) (action.Snapshot, error) {
	var snap action.Snapshot
	if err := c.request(ctx, TypeSnapshotRequest, struct{}{}, &snap); err != nil {
		return action.Snapshot{}, err
	}
	return snap, nil
}

// Outcome fetches a retained outcome. found is false while the action is
// still active or after its outcome has expired.
func (c *Client) Outcome(ctx context.Context, id string) (o mediator.Outcome, found bool, err error) {
	var reply OutcomeReply
	if err := c.request(ctx, TypeOutcomeRequest, IDRequest{ID: id}, &reply); err != nil {
		return mediator.Outcome{}, false, err
	}
	if err := reply.Err(); err != nil {
		return mediator.Outcome{}, false, err
	}
	if !reply.Found || reply.Outcome == nil {
		return mediator.Outcome{}, false, nil
	}
	return *reply.Outcome, true, nil
}

// Cancel withdraws a queued action.
func (c *Client) Cancel(ctx context.Context, id string) error {
	var reply CancelReply
	if err := c.request(ctx, TypeCancelRequest, IDRequest{ID: id}, &reply); err != nil {
		return err
	}
	return reply.Err()
}

// WaitOutcome blocks until the action resolves or ctx ends. It follows
// action.outcome broadcasts and polls the server as a fallback.
func (c *Client) WaitOutcome(ctx context.Context, id string) (mediator.Outcome, error) {
	found := make(chan mediator.Outcome, 1)
	sub, err := c.broker.Subscribe(ctx, broker.TopicBroadcast, func(env broker.Envelope) {
		if env.Type != TypeActionOutcome {
			return
		}
		var o mediator.Outcome
		if err := env.Decode(&o); err != nil || o.ID != id {
			return
		}
		select {
		case found <- o:
		default:
		}
	})
	if err != nil {
		return mediator.Outcome{}, fmt.Errorf("protocol: subscribe to broadcasts: %w", err)
	}
	defer func() { _ = sub.Close() }()

	ticker := time.NewTicker(c.outcomePoll)
	defer ticker.Stop()
	for {
		if o, ok, err := c.Outcome(ctx, id); err != nil {
			if ctx.Err() != nil {
				return mediator.Outcome{}, ctx.Err()
			}
			c.logger.Debug("outcome poll failed", "action_id", id, "error", err.Error())
		} else if ok {
			return o, nil
		}

		select {
		case o := <-found:
			return o, nil
		case <-ticker.C:
		case <-ctx.Done():
			return mediator.Outcome{}, ctx.Err()
		}
	}
}

// Watch delivers the latest queue snapshot whenever it changes, starting
// with the current one. Older snapshots are skipped when the consumer falls
// behind. The channel closes when ctx ends.
func (c *Client) Watch(ctx context.Context) (<-chan action.Snapshot, error) {
	out := make(chan action.Snapshot, 1)
	var (
		mu      sync.Mutex
		last    uint64
		started bool
		done    bool
	)
	offer := func(snap action.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if done || (started && snap.Version <= last) {
			return
		}
		started = true
		last = snap.Version
		select {
		case <-out:
		default:
		}
		out <- snap
	}

	sub, err := c.broker.Subscribe(ctx, broker.TopicBroadcast, func(env broker.Envelope) {
		if env.Type != TypeQueueSnapshot {
			return
		}
		var snap action.Snapshot
		if err := env.Decode(&snap); err != nil {
			c.logger.Warn("dropping malformed snapshot", "error", err.Error())
			return
		}
		offer(snap)
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: subscribe to broadcasts: %w", err)
	}

	initial, err := c.Snapshot(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	offer(initial)

	go func() {
		<-ctx.Done()
		_ = sub.Close()
		mu.Lock()
		done = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

// Close releases the reply subscription. Pending requests fail with their
// context.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.replySub.Close()
	if r, ok := c.broker.(broker.Remover); ok {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if rerr := r.Remove(ctx, c.replyTopic()); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
