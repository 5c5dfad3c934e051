package mediator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/event"
	"github.com/Iron-Ham/walletgate/internal/wallet"
)

// snapshotChecker asserts the in-decision invariants on every published
// snapshot. Snapshots can reach the bus out of order when two goroutines
// publish at once, so stale versions are skipped.
type snapshotChecker struct {
	mu          sync.Mutex
	lastVersion uint64
	violations  []string
	promoted    []uint64 // positions in promotion order
}

func (c *snapshotChecker) handler(e event.Event) {
	changed, ok := e.(event.QueueChangedEvent)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if changed.Snapshot.Version <= c.lastVersion {
		return
	}
	c.lastVersion = changed.Snapshot.Version

	inDecision := 0
	for i, a := range changed.Snapshot.Queue {
		if a.Status.InDecision() {
			inDecision++
			if i != 0 {
				c.violations = append(c.violations,
					fmt.Sprintf("v%d: %s in decision at index %d", changed.Snapshot.Version, a.ID, i))
			}
			if n := len(c.promoted); n == 0 || c.promoted[n-1] != a.Position {
				c.promoted = append(c.promoted, a.Position)
			}
		}
	}
	if inDecision > 1 {
		c.violations = append(c.violations,
			fmt.Sprintf("v%d: %d actions in decision", changed.Snapshot.Version, inDecision))
	}
}

func (c *snapshotChecker) check(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.violations {
		t.Error(v)
	}
	for i := 1; i < len(c.promoted); i++ {
		if c.promoted[i] <= c.promoted[i-1] {
			t.Errorf("promotion order not FIFO: %v", c.promoted)
			break
		}
	}
}

func TestConcurrentSubmittersAndOperator(t *testing.T) {
	bus := event.NewBus()
	checker := &snapshotChecker{}
	bus.Subscribe(event.TypeQueueChanged, checker.handler)

	w := wallet.NewDevWallet("0xdev", wallet.Unlocked(), wallet.WithBus(bus))
	m, err := New(w, w, bus, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer closeMediator(t, m)

	const submitters = 8
	const perSubmitter = 10
	total := submitters * perSubmitter

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resolvedMu sync.Mutex
	var resolved []Outcome

	var wg conc.WaitGroup
	for s := range submitters {
		wg.Go(func() {
			for i := range perSubmitter {
				p, err := m.Submit(ctx, action.NewActionRequest{
					Title:  fmt.Sprintf("s%d-%d", s, i),
					Amount: "1",
				})
				if err != nil {
					t.Errorf("Submit: %v", err)
					return
				}
				go func() {
					o, err := p.Wait(ctx)
					if err != nil {
						t.Errorf("Wait(%s): %v", p.ID(), err)
						return
					}
					resolvedMu.Lock()
					resolved = append(resolved, o)
					resolvedMu.Unlock()
				}()
			}
		})
	}

	// Operator approves whatever is in decision, clicking twice each time.
	wg.Go(func() {
		decided := 0
		for decided < total {
			if ctx.Err() != nil {
				t.Errorf("operator timed out after %d decisions", decided)
				return
			}
			a, ok := m.Snapshot().InDecision()
			if !ok || a.Status != action.StatusAwaitingUser {
				time.Sleep(time.Millisecond)
				continue
			}
			if err := m.Decide(a.ID, true); err != nil {
				t.Errorf("Decide: %v", err)
				return
			}
			_ = m.Decide(a.ID, true)
			decided++
		}
	})
	wg.Wait()

	waitFor(t, func() bool {
		resolvedMu.Lock()
		defer resolvedMu.Unlock()
		return len(resolved) == total
	})

	for _, o := range resolved {
		if o.Status != action.StatusApproved {
			t.Errorf("%s = %s %q, want approved", o.ID, o.Status, o.Reason)
		}
	}
	if got := len(w.History()); got != total {
		t.Errorf("custody executed %d transfers, want %d", got, total)
	}
	checker.check(t)
}

// op is one step of a random interleaving.
type op int

const (
	opSubmit op = iota
	opApprove
	opReject
	opCancelLast
	opLock
	opUnlock
	opCount
)

// Property: for any interleaving of submissions, decisions, cancellations
// and lock changes, no snapshot ever has more than one action in decision,
// only the head is ever in decision, promotion follows position order, and
// every pending handle settles once the queue is invalidated.
func TestProperty_RandomInterleavings(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("in-decision invariants hold", prop.ForAll(
		func(steps []int) bool {
			bus := event.NewBus()
			checker := &snapshotChecker{}
			bus.Subscribe(event.TypeQueueChanged, checker.handler)
			w := wallet.NewDevWallet("0xdev", wallet.Unlocked(), wallet.WithBus(bus))
			m, err := New(w, w, bus, DefaultConfig())
			if err != nil {
				return false
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var handles []*Pending
			for _, s := range steps {
				switch op(s) {
				case opSubmit:
					p, err := m.Submit(ctx, action.NewActionRequest{Title: "p", Amount: "1"})
					if err != nil {
						return false
					}
					handles = append(handles, p)
				case opApprove, opReject:
					a, ok := m.Snapshot().InDecision()
					if !ok || a.Status != action.StatusAwaitingUser {
						continue
					}
					if err := m.Decide(a.ID, op(s) == opApprove); err != nil {
						return false
					}
					for _, p := range handles {
						if p.ID() == a.ID {
							if _, err := p.Wait(ctx); err != nil {
								return false
							}
						}
					}
				case opCancelLast:
					if len(handles) > 0 {
						_ = m.Cancel(handles[len(handles)-1].ID())
					}
				case opLock:
					w.Lock()
				case opUnlock:
					w.Unlock()
				}
			}

			m.InvalidateAll("")
			for _, p := range handles {
				if _, err := p.Wait(ctx); err != nil {
					return false
				}
			}
			if err := m.Close(ctx); err != nil {
				return false
			}

			checker.mu.Lock()
			defer checker.mu.Unlock()
			if len(checker.violations) > 0 {
				return false
			}
			for i := 1; i < len(checker.promoted); i++ {
				if checker.promoted[i] <= checker.promoted[i-1] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, int(opCount)-1)),
	))

	properties.TestingRun(t)
}
