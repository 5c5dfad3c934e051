package mediator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/actionqueue"
	"github.com/Iron-Ham/walletgate/internal/approval"
	"github.com/Iron-Ham/walletgate/internal/balance"
	"github.com/Iron-Ham/walletgate/internal/errors"
	"github.com/Iron-Ham/walletgate/internal/event"
	"github.com/Iron-Ham/walletgate/internal/logging"
	"github.com/Iron-Ham/walletgate/internal/wallet"
)

// ReasonInvalidated is recorded on actions failed by InvalidateAll.
const ReasonInvalidated = "invalidated"

// ErrClosed is returned by Submit after Close, and by Pending.Wait for an
// action left unresolved when the mediator closed.
var ErrClosed = errors.New("mediator is closed")

// Mediator owns the action queue and its state machine.
type Mediator struct {
	mu         sync.Mutex
	cfg        Config
	queue      *actionqueue.Queue
	machine    *approval.Machine
	custody    wallet.Custody
	oracle     balance.Oracle
	gate       *balance.Gate
	bus        *event.Bus
	logger     *logging.Logger
	metrics    *metrics
	pending    map[string]*Pending
	promotedAt map[string]time.Time
	outcomes   *expirable.LRU[string, Outcome]
	busSubs    []string
	executions sync.WaitGroup
	closed     bool
	stopped    chan struct{}
	now        func() time.Time
}

// Option configures a Mediator.
type Option func(*options)

type options struct {
	logger        *logging.Logger
	meterProvider metric.MeterProvider
	gate          *balance.Gate
	queueOpts     []actionqueue.Option
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMeterProvider sets the OpenTelemetry meter provider. The default is
// the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithGate sets the balance gate used by EvaluateHead.
func WithGate(g *balance.Gate) Option {
	return func(o *options) { o.gate = g }
}

// WithQueueOptions passes options through to the action queue.
func WithQueueOptions(opts ...actionqueue.Option) Option {
	return func(o *options) { o.queueOpts = append(o.queueOpts, opts...) }
}

// New creates a Mediator and subscribes it to wallet lock events on bus.
// oracle may be nil, in which case every balance is unknown.
func New(custody wallet.Custody, oracle balance.Oracle, bus *event.Bus, cfg Config, opts ...Option) (*Mediator, error) {
	if custody == nil {
		return nil, fmt.Errorf("mediator: custody service is required")
	}
	if bus == nil {
		bus = event.NewBus()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	if o.gate == nil {
		o.gate = balance.NewGate(false)
	}

	cfg = cfg.withDefaults()
	q := actionqueue.New(cfg.DefaultToken, o.queueOpts...)
	met, err := newMetrics(o.meterProvider, q.Status)
	if err != nil {
		return nil, fmt.Errorf("mediator: register metrics: %w", err)
	}

	m := &Mediator{
		cfg:        cfg,
		queue:      q,
		machine:    approval.NewMachine(q, custody),
		custody:    custody,
		oracle:     oracle,
		gate:       o.gate,
		bus:        bus,
		logger:     o.logger.WithComponent("mediator"),
		metrics:    met,
		pending:    make(map[string]*Pending),
		promotedAt: make(map[string]time.Time),
		outcomes:   expirable.NewLRU[string, Outcome](cfg.OutcomeRetentionSize, nil, cfg.OutcomeRetention),
		stopped:    make(chan struct{}),
		now:        time.Now,
	}

	m.busSubs = append(m.busSubs,
		bus.Subscribe(event.TypeWalletUnlocked, func(event.Event) {
			m.TryPromote()
		}),
		bus.Subscribe(event.TypeWalletLocked, func(event.Event) {
			if m.cfg.InvalidateOnLock {
				m.InvalidateAll(ReasonInvalidated)
			}
		}),
	)
	return m, nil
}

// Gate returns the balance gate.
func (m *Mediator) Gate() *balance.Gate {
	return m.gate
}

// Bus returns the event bus the mediator publishes on.
func (m *Mediator) Bus() *event.Bus {
	return m.bus
}

// Submit enqueues req and returns a handle that settles when the action
// reaches a terminal state. It fails only for a malformed request.
func (m *Mediator) Submit(ctx context.Context, req action.NewActionRequest) (*Pending, error) {
	var (
		p *Pending
		a action.WalletAction
	)
	events, err := m.locked(func() ([]event.Event, error) {
		if m.closed {
			return nil, fmt.Errorf("submit: %w", ErrClosed)
		}
		id, err := m.queue.Enqueue(req)
		if err != nil {
			return nil, err
		}
		p = newPending(id, m.stopped)
		m.pending[id] = p
		a, _ = m.queue.Get(id)

		events := []event.Event{event.NewActionEnqueuedEvent(a)}
		events = append(events, m.promoteLocked()...)
		return append(events, m.changedLocked()), nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.recordEnqueued(ctx, a.TokenSymbol)
	m.logger.WithAction(a.ID).Info("action enqueued",
		"position", a.Position, "amount", a.Amount, "token", a.TokenSymbol)
	m.publish(events)
	return p, nil
}

// SubmitAndWait submits req and waits for its outcome.
func (m *Mediator) SubmitAndWait(ctx context.Context, req action.NewActionRequest) (Outcome, error) {
	p, err := m.Submit(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return p.Wait(ctx)
}

// DecideOption annotates a decision.
type DecideOption func(*decision)

type decision struct {
	surface string
}

// FromSurface records which presentation surface issued the decision. It is
// used for the audit log only and grants no extra authority.
func FromSurface(name string) DecideOption {
	return func(d *decision) { d.surface = name }
}

// Decide applies an operator decision to the action in decision.
//
// It returns ErrNotFound for an unknown id and ErrInvalidState for an action
// that is still queued. Duplicate decisions, for an action already
// processing or already resolved, return nil and change nothing. Approved
// transfers execute asynchronously; the result arrives as a later snapshot
// and on the originator's handle.
func (m *Mediator) Decide(id string, approved bool, opts ...DecideOption) error {
	var d decision
	for _, opt := range opts {
		opt(&d)
	}
	log := m.logger.WithAction(id)
	if d.surface != "" {
		log = log.WithSurface(d.surface)
	}

	var (
		latency time.Duration
		ignored string
	)
	events, err := m.locked(func() ([]event.Event, error) {
		res, err := m.machine.SubmitDecision(id, approved)
		if err != nil {
			if _, resolved := m.outcomes.Get(id); resolved && errors.Is(err, errors.ErrNotFound) {
				ignored = "ignoring decision for resolved action"
				return nil, nil
			}
			return nil, err
		}
		if res.NoOp() {
			ignored = "ignoring duplicate decision"
			return nil, nil
		}

		if t, ok := m.promotedAt[id]; ok {
			latency = m.now().Sub(t)
		}
		events := []event.Event{event.NewActionDecidedEvent(id, approved, d.surface)}

		switch {
		case !approved:
			events = append(events, m.resolveLocked(res.Action))
			events = append(events, m.promoteLocked()...)
		case !res.Action.HasAmount():
			// Authorization-only actions have nothing to transfer.
			final, _ := m.machine.RecordOutcome(id, nil, nil)
			events = append(events, m.resolveLocked(final))
			events = append(events, m.promoteLocked()...)
		default:
			m.executions.Add(1)
			go m.execute(res.Action)
		}
		return append(events, m.changedLocked()), nil
	})
	if err != nil {
		log.Warn("decision refused", "approved", approved, "error", err.Error())
		return err
	}
	if ignored != "" {
		log.Debug(ignored, "approved", approved)
		return nil
	}

	m.metrics.recordDecision(context.Background(), latency, approved)
	log.Info("decision applied", "approved", approved, "latency_ms", latency.Milliseconds())
	m.publish(events)
	return nil
}

// Cancel rejects a queued action before it reaches the operator. Actions in
// decision cannot be cancelled.
func (m *Mediator) Cancel(id string) error {
	events, err := m.locked(func() ([]event.Event, error) {
		a, err := m.machine.Cancel(id, "")
		if err != nil {
			if _, resolved := m.outcomes.Get(id); resolved && errors.Is(err, errors.ErrNotFound) {
				err = fmt.Errorf("%w: action %s already resolved", errors.ErrInvalidState, id)
			}
			return nil, err
		}
		return []event.Event{m.resolveLocked(a), m.changedLocked()}, nil
	})
	if err != nil {
		return err
	}

	m.logger.WithAction(id).Info("action cancelled")
	m.publish(events)
	return nil
}

// InvalidateAll fails every active action with reason. It is used when the
// wallet locks or the user logs out and is not reachable over the protocol.
func (m *Mediator) InvalidateAll(reason string) int {
	if reason == "" {
		reason = ReasonInvalidated
	}

	var count int
	events, _ := m.locked(func() ([]event.Event, error) {
		resolved := m.machine.Invalidate(reason)
		count = len(resolved)
		events := make([]event.Event, 0, count+2)
		for _, a := range resolved {
			events = append(events, m.resolveLocked(a))
		}
		return append(events, event.NewQueueInvalidatedEvent(reason, count), m.changedLocked()), nil
	})

	if count > 0 {
		m.logger.Warn("queue invalidated", "reason", reason, "count", count)
	}
	m.publish(events)
	return count
}

// TryPromote surfaces the head if nothing is in decision and the wallet is
// unlocked. It reports whether an action was promoted.
func (m *Mediator) TryPromote() bool {
	events, _ := m.locked(func() ([]event.Event, error) {
		events := m.promoteLocked()
		if len(events) == 0 {
			return nil, nil
		}
		return append(events, m.changedLocked()), nil
	})
	if len(events) == 0 {
		return false
	}
	m.publish(events)
	return true
}

// Snapshot returns the current queue.
func (m *Mediator) Snapshot() action.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Outcome returns a retained terminal outcome.
func (m *Mediator) Outcome(id string) (Outcome, bool) {
	return m.outcomes.Get(id)
}

// EvaluateHead runs the balance gate for the head action. The oracle is
// queried without holding the mediator lock.
func (m *Mediator) EvaluateHead(ctx context.Context) (action.GateStatus, bool) {
	head, ok := m.Snapshot().Head()
	if !ok {
		return action.GateStatus{}, false
	}
	return m.Evaluate(ctx, head), true
}

// Evaluate runs the balance gate for a.
func (m *Mediator) Evaluate(ctx context.Context, a action.WalletAction) action.GateStatus {
	return m.gate.EvaluateWith(ctx, m.oracle, a).Status(a.ID)
}

// Close stops reacting to wallet events, refuses new submissions and waits
// for in-flight executions until ctx ends. Actions still queued or awaiting
// the operator keep their state; their handles return ErrClosed from Wait.
func (m *Mediator) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.busSubs
	m.busSubs = nil
	m.mu.Unlock()

	for _, id := range subs {
		m.bus.Unsubscribe(id)
	}

	defer close(m.stopped)

	done := make(chan struct{})
	go func() {
		m.executions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close: waiting for executions: %w", ctx.Err())
	}
}

type transferResult struct {
	receipt action.TxReceipt
	err     error
}

// execute runs the custody call for a processing action and records the
// result. The call is abandoned, not cancelled, if it outlives the timeout.
func (m *Mediator) execute(a action.WalletAction) {
	defer m.executions.Done()
	log := m.logger.WithAction(a.ID)

	amount, ok := action.ParseAmount(a.Amount)
	if !ok {
		m.complete(a.ID, nil, errors.NewValidationError("amount", fmt.Sprintf("cannot transfer %q", a.Amount)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ExecutionTimeout)
	defer cancel()

	results := make(chan transferResult, 1)
	go func() {
		r, err := m.custody.ExecuteTransfer(ctx, a.Recipient, amount, a.TokenSymbol)
		results <- transferResult{receipt: r, err: err}
	}()

	log.Info("executing transfer", "amount", amount.String(), "token", a.TokenSymbol, "recipient", a.Recipient)
	select {
	case res := <-results:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				res.err = fmt.Errorf("%w: %v", errors.ErrTimeout, res.err)
			}
			m.complete(a.ID, nil, res.err)
			return
		}
		m.complete(a.ID, &res.receipt, nil)
	case <-ctx.Done():
		m.complete(a.ID, nil, fmt.Errorf("%w after %s", errors.ErrTimeout, m.cfg.ExecutionTimeout))
		go m.drainLate(a.ID, results)
	}
}

// drainLate logs a custody result that arrives after its action timed out.
func (m *Mediator) drainLate(id string, results <-chan transferResult) {
	res := <-results
	if res.err == nil {
		m.logger.WithAction(id).Error("transfer completed after timeout; action already failed",
			"tx_hash", res.receipt.TxHash)
	}
}

func (m *Mediator) complete(id string, receipt *action.TxReceipt, execErr error) {
	var recordErr error
	if execErr != nil {
		recordErr = errors.NewExecutionError(execErr)
	}

	var recorded bool
	events, _ := m.locked(func() ([]event.Event, error) {
		final, ok := m.machine.RecordOutcome(id, receipt, recordErr)
		if !ok {
			return nil, nil
		}
		recorded = true
		events := []event.Event{m.resolveLocked(final)}
		events = append(events, m.promoteLocked()...)
		return append(events, m.changedLocked()), nil
	})
	if !recorded {
		args := []any{}
		if receipt != nil {
			args = append(args, "tx_hash", receipt.TxHash)
		}
		if execErr != nil {
			args = append(args, "error", execErr.Error())
		}
		m.logger.WithAction(id).Error("discarding custody result for action no longer processing", args...)
		return
	}
	m.publish(events)
}

// locked runs fn with the mediator lock held and releases it even if fn
// panics. Callers publish the returned events after it returns.
func (m *Mediator) locked(fn func() ([]event.Event, error)) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

// promoteLocked asks the state machine to surface the head.
func (m *Mediator) promoteLocked() []event.Event {
	id, ok := m.machine.Promote()
	if !ok {
		return nil
	}
	m.promotedAt[id] = m.now()
	m.logger.WithAction(id).Info("action awaiting operator")
	return []event.Event{event.NewActionPromotedEvent(id)}
}

// resolveLocked retains the outcome, settles the originator's handle and
// records metrics for a terminal action.
func (m *Mediator) resolveLocked(a action.WalletAction) event.Event {
	o := OutcomeOf(a)
	m.outcomes.Add(a.ID, o)
	if p, ok := m.pending[a.ID]; ok {
		p.settle(o)
		delete(m.pending, a.ID)
	}
	delete(m.promotedAt, a.ID)
	m.metrics.recordResolved(context.Background(), a)

	log := m.logger.WithAction(a.ID)
	if a.Status == action.StatusFailed {
		log.Warn("action resolved", "status", string(a.Status), "reason", a.Reason)
	} else {
		log.Info("action resolved", "status", string(a.Status), "reason", a.Reason)
	}
	return event.NewActionResolvedEvent(a)
}

func (m *Mediator) snapshotLocked() action.Snapshot {
	queue, version := m.queue.Snapshot()
	return action.Snapshot{Version: version, Queue: queue}
}

func (m *Mediator) changedLocked() event.Event {
	return event.NewQueueChangedEvent(m.snapshotLocked())
}

func (m *Mediator) publish(events []event.Event) {
	for _, e := range events {
		m.bus.Publish(e)
	}
}
