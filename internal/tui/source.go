package tui

import (
	"context"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/mediator"
	"github.com/Iron-Ham/walletgate/internal/notify"
	"github.com/Iron-Ham/walletgate/internal/protocol"
)

// Source feeds the console with snapshots and accepts its decisions.
type Source interface {
	// Snapshots delivers the latest queue, closing when the source ends.
	Snapshots() <-chan action.Snapshot
	// Decide applies the operator's decision.
	Decide(ctx context.Context, id string, approved bool) error
}

// SurfaceConsole is recorded on decisions made from the console.
const SurfaceConsole = "console"

// LocalSource drives the console from an in-process mediator.
type LocalSource struct {
	med *mediator.Mediator
	out chan action.Snapshot
}

// NewLocalSource subscribes to ch and attaches the gate result for each
// snapshot's head. It stops when ctx ends.
func NewLocalSource(ctx context.Context, med *mediator.Mediator, ch *notify.Channel, buffer int) *LocalSource {
	s := &LocalSource{med: med, out: make(chan action.Snapshot, 1)}
	sub := ch.Subscribe(buffer)

	go func() {
		defer close(s.out)
		defer sub.Close()

		s.offer(ctx, med.Snapshot())
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub.C():
				if !ok {
					return
				}
				if sub.Lagged() {
					snap = med.Snapshot()
				}
				s.offer(ctx, snap)
			}
		}
	}()
	return s
}

// offer replaces any undelivered snapshot with snap.
func (s *LocalSource) offer(ctx context.Context, snap action.Snapshot) {
	if head, ok := snap.Head(); ok {
		g := s.med.Evaluate(ctx, head)
		snap.Gate = &g
	}
	select {
	case <-s.out:
	default:
	}
	s.out <- snap
}

// Snapshots implements Source.
func (s *LocalSource) Snapshots() <-chan action.Snapshot { return s.out }

// Decide implements Source.
func (s *LocalSource) Decide(_ context.Context, id string, approved bool) error {
	return s.med.Decide(id, approved, mediator.FromSurface(SurfaceConsole))
}

// RemoteSource drives the console over the broker protocol.
type RemoteSource struct {
	client *protocol.Client
	snaps  <-chan action.Snapshot
}

// NewRemoteSource starts watching the server's broadcasts.
func NewRemoteSource(ctx context.Context, client *protocol.Client) (*RemoteSource, error) {
	snaps, err := client.Watch(ctx)
	if err != nil {
		return nil, err
	}
	return &RemoteSource{client: client, snaps: snaps}, nil
}

// Snapshots implements Source.
func (s *RemoteSource) Snapshots() <-chan action.Snapshot { return s.snaps }

// Decide implements Source.
func (s *RemoteSource) Decide(ctx context.Context, id string, approved bool) error {
	return s.client.Decide(ctx, id, approved)
}
