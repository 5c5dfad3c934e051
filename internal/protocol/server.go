package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/broker"
	"github.com/Iron-Ham/walletgate/internal/errors"
	"github.com/Iron-Ham/walletgate/internal/event"
	"github.com/Iron-Ham/walletgate/internal/logging"
	"github.com/Iron-Ham/walletgate/internal/mediator"
	"github.com/Iron-Ham/walletgate/internal/notify"
)

// SurfaceRemote is recorded for decisions that arrive without a surface.
const SurfaceRemote = "remote"

const (
	defaultWorkers      = 8
	defaultReplyTimeout = 5 * time.Second
	outboxSize          = 256
)

// Server answers protocol requests for one mediator.
type Server struct {
	med          *mediator.Mediator
	broker       broker.Broker
	channel      *notify.Channel
	ownsChannel  bool
	logger       *logging.Logger
	workers      int
	replyTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *logging.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithChannel shares an existing notification channel instead of attaching
// a new one to the mediator's bus.
func WithChannel(ch *notify.Channel) ServerOption {
	return func(s *Server) { s.channel = ch }
}

// WithWorkers bounds how many requests are handled concurrently.
func WithWorkers(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewServer creates a server for med on b.
func NewServer(med *mediator.Mediator, b broker.Broker, opts ...ServerOption) *Server {
	s := &Server{
		med:          med,
		broker:       b,
		logger:       logging.NopLogger(),
		workers:      defaultWorkers,
		replyTimeout: defaultReplyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("protocol")
	return s
}

// Run serves requests and broadcasts until ctx ends. In-flight requests are
// finished before it returns.
func (s *Server) Run(ctx context.Context) error {
	ch := s.channel
	var attachID string
	if ch == nil {
		ch = notify.New()
		attachID = ch.Attach(s.med.Bus())
		defer func() {
			s.med.Bus().Unsubscribe(attachID)
			ch.Close()
		}()
	}
	snapshots := ch.Subscribe(notify.DefaultBuffer)
	defer snapshots.Close()

	outbox := make(chan mediator.Outcome, outboxSize)
	resolvedID := s.med.Bus().Subscribe(event.TypeActionResolved, func(e event.Event) {
		resolved, ok := e.(event.ActionResolvedEvent)
		if !ok {
			return
		}
		select {
		case outbox <- mediator.OutcomeOf(resolved.Action):
		default:
			s.logger.WithAction(resolved.Action.ID).Warn("outcome broadcast dropped, outbox full")
		}
	})
	defer s.med.Bus().Unsubscribe(resolvedID)

	workers := pool.New().WithMaxGoroutines(s.workers)
	var (
		intakeMu sync.Mutex
		stopped  bool
	)
	reqSub, err := s.broker.Subscribe(ctx, broker.TopicRequests, func(env broker.Envelope) {
		intakeMu.Lock()
		defer intakeMu.Unlock()
		if stopped {
			return
		}
		workers.Go(func() { s.handle(ctx, env) })
	})
	if err != nil {
		return fmt.Errorf("protocol: subscribe to requests: %w", err)
	}
	stop := func() {
		_ = reqSub.Close()
		intakeMu.Lock()
		stopped = true
		intakeMu.Unlock()
		workers.Wait()
	}

	s.logger.Info("protocol server started")
	s.broadcastSnapshot(ctx, s.med.Snapshot())

	for {
		select {
		case <-ctx.Done():
			stop()
			s.logger.Info("protocol server stopped")
			return nil
		case snap, ok := <-snapshots.C():
			if !ok {
				stop()
				return nil
			}
			if snapshots.Lagged() {
				s.logger.Debug("snapshot subscriber lagged, sending latest")
				snap = s.med.Snapshot()
			}
			s.broadcastSnapshot(ctx, snap)
		case o := <-outbox:
			s.broadcast(ctx, TypeActionOutcome, o)
		}
	}
}

// withGate attaches the gate result for the head of snap.
func (s *Server) withGate(ctx context.Context, snap action.Snapshot) action.Snapshot {
	if head, ok := snap.Head(); ok {
		g := s.med.Evaluate(ctx, head)
		snap.Gate = &g
	}
	return snap
}

func (s *Server) broadcastSnapshot(ctx context.Context, snap action.Snapshot) {
	s.broadcast(ctx, TypeQueueSnapshot, s.withGate(ctx, snap))
}

func (s *Server) broadcast(ctx context.Context, t broker.MessageType, payload any) {
	env, err := broker.NewEnvelope(t, payload)
	if err != nil {
		s.logger.Error("failed to build broadcast", "type", string(t), "error", err.Error())
		return
	}
	if err := s.broker.Publish(ctx, broker.TopicBroadcast, env); err != nil && ctx.Err() == nil {
		s.logger.Warn("broadcast failed", "type", string(t), "error", err.Error())
	}
}

func (s *Server) handle(ctx context.Context, req broker.Envelope) {
	log := s.logger.With("request_id", req.ID, "type", string(req.Type))
	log.Debug("request received")

	var payload any
	switch req.Type {
	case TypeEnqueueRequest:
		payload = s.enqueue(ctx, req)
	case TypeDecisionRequest:
		payload = s.decide(req)
	case TypeSnapshotRequest:
		payload = s.withGate(ctx, s.med.Snapshot())
	case TypeOutcomeRequest:
		payload = s.outcome(req)
	case TypeCancelRequest:
		payload = s.cancel(req)
	default:
		log.Warn("unknown request type")
		s.reply(log, req, TypeErrorReply, resultOf(
			errors.NewValidationError("type", fmt.Sprintf("unknown request type %q", req.Type))))
		return
	}

	replyType, _ := ReplyType(req.Type)
	s.reply(log, req, replyType, payload)
}

func (s *Server) enqueue(ctx context.Context, req broker.Envelope) EnqueueReply {
	var in EnqueueRequest
	if err := req.Decode(&in); err != nil {
		return EnqueueReply{Result: resultOf(invalidPayload(err))}
	}
	p, err := s.med.Submit(ctx, in)
	if err != nil {
		return EnqueueReply{Result: resultOf(err)}
	}
	return EnqueueReply{Result: resultOf(nil), ID: p.ID()}
}

func (s *Server) decide(req broker.Envelope) DecisionReply {
	var in DecisionRequest
	if err := req.Decode(&in); err != nil {
		return DecisionReply{Result: resultOf(invalidPayload(err))}
	}
	surface := in.Surface
	if surface == "" {
		surface = SurfaceRemote
	}
	return DecisionReply{Result: resultOf(s.med.Decide(in.ID, in.Approved, mediator.FromSurface(surface)))}
}

func (s *Server) outcome(req broker.Envelope) OutcomeReply {
	var in IDRequest
	if err := req.Decode(&in); err != nil {
		return OutcomeReply{Result: resultOf(invalidPayload(err))}
	}
	o, ok := s.med.Outcome(in.ID)
	if !ok {
		return OutcomeReply{Result: resultOf(nil)}
	}
	return OutcomeReply{Result: resultOf(nil), Found: true, Outcome: &o}
}

func (s *Server) cancel(req broker.Envelope) CancelReply {
	var in IDRequest
	if err := req.Decode(&in); err != nil {
		return CancelReply{Result: resultOf(invalidPayload(err))}
	}
	return CancelReply{Result: resultOf(s.med.Cancel(in.ID))}
}

// reply publishes on a fresh context so replies still go out while Run is
// draining after cancellation.
func (s *Server) reply(log *logging.Logger, req broker.Envelope, t broker.MessageType, payload any) {
	if req.ReplyTo == "" {
		return
	}
	env, err := req.Reply(t, payload)
	if err != nil {
		log.Error("failed to build reply", "error", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.replyTimeout)
	defer cancel()
	if err := s.broker.Publish(ctx, req.ReplyTo, env); err != nil {
		log.Warn("reply failed", "reply_to", req.ReplyTo, "error", err.Error())
	}
}

func invalidPayload(err error) error {
	return errors.Wrap(errors.NewValidationError("payload", err.Error()), "decode request")
}
