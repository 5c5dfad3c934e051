package mediator

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/errors"
	"github.com/Iron-Ham/walletgate/internal/event"
	"github.com/Iron-Ham/walletgate/internal/logging"
	"github.com/Iron-Ham/walletgate/internal/wallet"
)

func TestScenarioA_SufficientBalanceApproved(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked(), plus(10))
	p := submit(t, f.m, "Tip @alice", "5")

	gate, ok := f.m.EvaluateHead(context.Background())
	if !ok {
		t.Fatal("EvaluateHead found no head")
	}
	if !gate.Ready || gate.Insufficient || !gate.Verified || gate.ActionID != p.ID() {
		t.Errorf("gate = %+v, want ready and verified", gate)
	}

	if err := f.m.Decide(p.ID(), true); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	o := waitOutcome(t, p)
	if o.Status != action.StatusApproved || o.Receipt == nil || o.Receipt.Amount != "5" {
		t.Errorf("outcome = %+v", o)
	}
	if o.Err() != nil {
		t.Errorf("Err() = %v, want nil", o.Err())
	}
}

func TestScenarioB_InsufficientForcedThroughFails(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked(), plus(2))
	p := submit(t, f.m, "Tip @bob", "5")

	gate, _ := f.m.EvaluateHead(context.Background())
	if !gate.Insufficient || gate.Ready {
		t.Fatalf("gate = %+v, want insufficient", gate)
	}

	if err := f.m.Decide(p.ID(), true); err != nil {
		t.Fatalf("forced Decide: %v", err)
	}
	o := waitOutcome(t, p)
	if o.Status != action.StatusFailed {
		t.Fatalf("status = %s, want failed", o.Status)
	}
	var execErr *errors.ExecutionError
	if !errors.As(o.Err(), &execErr) {
		t.Fatalf("Err() = %v, want *ExecutionError", o.Err())
	}
	if !strings.Contains(execErr.Reason, "insufficient funds") {
		t.Errorf("reason = %q", execErr.Reason)
	}
	if len(f.wallet.History()) != 0 {
		t.Error("no transfer should have been executed")
	}
}

func TestScenarioC_FIFOAfterReject(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked(), plus(100))
	first := submit(t, f.m, "first", "1")
	second := submit(t, f.m, "second", "1")

	if got := statusOf(t, f.m, first.ID()); got != action.StatusAwaitingUser {
		t.Fatalf("first = %s, want awaiting_user", got)
	}
	third := submit(t, f.m, "third", "1")

	snap := f.m.Snapshot()
	var order []string
	for _, a := range snap.Queue {
		order = append(order, a.ID)
	}
	want := []string{first.ID(), second.ID(), third.ID()}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", order, want)
	}

	if err := f.m.Decide(first.ID(), false); err != nil {
		t.Fatalf("Decide reject: %v", err)
	}
	if o := waitOutcome(t, first); o.Status != action.StatusRejected {
		t.Errorf("first outcome = %s, want rejected", o.Status)
	}
	if got := statusOf(t, f.m, second.ID()); got != action.StatusAwaitingUser {
		t.Errorf("second = %s, want awaiting_user", got)
	}
	if got := statusOf(t, f.m, third.ID()); got != action.StatusQueued {
		t.Errorf("third = %s, want queued", got)
	}
}

func TestScenarioD_InvalidateWhileProcessing(t *testing.T) {
	var logBuf bytes.Buffer
	custody := newBlockingCustody(false)
	bus := event.NewBus()
	m, err := New(custody, nil, bus, DefaultConfig(),
		WithLogger(logging.NewWriterLogger(&logBuf, logging.LevelDebug)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := submit(t, m, "transfer", "3")
	queued := submit(t, m, "behind", "1")
	if err := m.Decide(p.ID(), true); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	waitFor(t, func() bool { return custody.calls.Load() == 1 })

	if n := m.InvalidateAll(ReasonInvalidated); n != 2 {
		t.Errorf("InvalidateAll resolved %d, want 2", n)
	}
	for _, pending := range []*Pending{p, queued} {
		o := waitOutcome(t, pending)
		if o.Status != action.StatusFailed || o.Reason != "invalidated" {
			t.Errorf("%s outcome = %s %q, want failed invalidated", pending.ID(), o.Status, o.Reason)
		}
	}

	// The custody call finishes after invalidation; its result is discarded.
	close(custody.release)
	closeMediator(t, m)
	if o, _ := m.Outcome(p.ID()); o.Status != action.StatusFailed {
		t.Errorf("late result changed outcome to %s", o.Status)
	}
	if !strings.Contains(logBuf.String(), "discarding custody result") {
		t.Errorf("late result not logged:\n%s", logBuf.String())
	}
}

func TestDecide_Errors(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked(), plus(10))
	head := submit(t, f.m, "head", "1")
	behind := submit(t, f.m, "behind", "1")

	if err := f.m.Decide("nope", true); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
	if err := f.m.Decide(behind.ID(), true); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("queued id: err = %v, want ErrInvalidState", err)
	}
	if errors.KindOf(f.m.Decide(behind.ID(), false)) != errors.KindProtocol {
		t.Error("decisions for the wrong action should be protocol errors")
	}

	if err := f.m.Decide(head.ID(), false); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	// Decisions for an already resolved action are ignored.
	if err := f.m.Decide(head.ID(), true); err != nil {
		t.Errorf("decide on resolved action: err = %v, want nil", err)
	}
}

func TestDecide_DuplicateApproveExecutesOnce(t *testing.T) {
	custody := newBlockingCustody(false)
	m, err := New(custody, nil, event.NewBus(), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	p := submit(t, m, "double click", "1")

	for range 3 {
		if err := m.Decide(p.ID(), true, FromSurface("console")); err != nil {
			t.Fatalf("Decide: %v", err)
		}
	}
	close(custody.release)
	if o := waitOutcome(t, p); o.Status != action.StatusApproved {
		t.Errorf("outcome = %s", o.Status)
	}
	closeMediator(t, m)
	if custody.calls.Load() != 1 {
		t.Errorf("custody called %d times, want 1", custody.calls.Load())
	}
}

func TestExecutionTimeout(t *testing.T) {
	custody := newBlockingCustody(true)
	cfg := DefaultConfig()
	cfg.ExecutionTimeout = 20 * time.Millisecond
	m, err := New(custody, nil, event.NewBus(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	p := submit(t, m, "slow", "1")
	next := submit(t, m, "next", "1")

	if err := m.Decide(p.ID(), true); err != nil {
		t.Fatal(err)
	}
	o := waitOutcome(t, p)
	if o.Status != action.StatusFailed || o.Reason != "execution timeout" {
		t.Errorf("outcome = %s %q, want failed execution timeout", o.Status, o.Reason)
	}
	if got := statusOf(t, m, next.ID()); got != action.StatusAwaitingUser {
		t.Errorf("next = %s, want awaiting_user after timeout", got)
	}
	close(custody.release)
	closeMediator(t, m)
}

func TestContextTimeoutFromCustody(t *testing.T) {
	custody := newBlockingCustody(false)
	cfg := DefaultConfig()
	cfg.ExecutionTimeout = 20 * time.Millisecond
	m, err := New(custody, nil, event.NewBus(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	p := submit(t, m, "slow", "1")
	if err := m.Decide(p.ID(), true); err != nil {
		t.Fatal(err)
	}
	if o := waitOutcome(t, p); o.Reason != "execution timeout" {
		t.Errorf("reason = %q, want execution timeout", o.Reason)
	}
	closeMediator(t, m)
}

func TestAuthorizationOnlyAction(t *testing.T) {
	custody := newBlockingCustody(false)
	m, err := New(custody, nil, event.NewBus(), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	p := submit(t, m, "Sign in to dapp", "")
	if err := m.Decide(p.ID(), true); err != nil {
		t.Fatal(err)
	}
	o, ok := p.Outcome()
	if !ok {
		t.Fatal("authorization-only action should resolve synchronously")
	}
	if o.Status != action.StatusApproved || o.Receipt != nil {
		t.Errorf("outcome = %+v", o)
	}
	if custody.calls.Load() != 0 {
		t.Error("custody should not be called for authorization-only actions")
	}
	closeMediator(t, m)
}

func TestMalformedAmountFailsAtExecution(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked())
	p := submit(t, f.m, "odd", "12abc")

	gate, _ := f.m.EvaluateHead(context.Background())
	if gate.Insufficient {
		t.Error("malformed amount should gate as zero")
	}
	if err := f.m.Decide(p.ID(), true); err != nil {
		t.Fatal(err)
	}
	o := waitOutcome(t, p)
	if o.Status != action.StatusFailed || !strings.Contains(o.Reason, "amount") {
		t.Errorf("outcome = %s %q", o.Status, o.Reason)
	}
}

func TestLockedWalletDefersPromotion(t *testing.T) {
	f := newFixture(t, DefaultConfig(), plus(10))
	p := submit(t, f.m, "waiting", "1")

	if got := statusOf(t, f.m, p.ID()); got != action.StatusQueued {
		t.Fatalf("status while locked = %s, want queued", got)
	}
	if err := f.m.Decide(p.ID(), true); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Decide while queued: err = %v", err)
	}

	f.wallet.Unlock()
	if got := statusOf(t, f.m, p.ID()); got != action.StatusAwaitingUser {
		t.Errorf("status after unlock = %s, want awaiting_user", got)
	}
}

func TestWalletLockInvalidates(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), wallet.Unlocked())
		p := submit(t, f.m, "a", "1")
		f.wallet.Lock()

		o := waitOutcome(t, p)
		if o.Status != action.StatusFailed || o.Reason != ReasonInvalidated {
			t.Errorf("outcome = %s %q", o.Status, o.Reason)
		}
		if len(f.events.findByType(event.TypeQueueInvalidated)) != 1 {
			t.Error("expected one queue.invalidated event")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InvalidateOnLock = false
		f := newFixture(t, cfg, wallet.Unlocked())
		p := submit(t, f.m, "a", "1")
		f.wallet.Lock()

		if _, done := p.Outcome(); done {
			t.Error("action should survive a lock when invalidation is disabled")
		}
		if got := statusOf(t, f.m, p.ID()); got != action.StatusAwaitingUser {
			t.Errorf("status = %s", got)
		}
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked())
	head := submit(t, f.m, "head", "1")
	behind := submit(t, f.m, "behind", "1")

	if err := f.m.Cancel(head.ID()); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("cancel head: err = %v, want ErrInvalidState", err)
	}
	if err := f.m.Cancel("nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("cancel unknown: err = %v, want ErrNotFound", err)
	}
	if err := f.m.Cancel(behind.ID()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if o := waitOutcome(t, behind); o.Status != action.StatusRejected {
		t.Errorf("cancelled outcome = %s", o.Status)
	}
	if err := f.m.Cancel(behind.ID()); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("cancel resolved: err = %v, want ErrInvalidState", err)
	}
}

func TestSubmit_InvalidRequest(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.m.Submit(context.Background(), action.NewActionRequest{Amount: "1"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
	if len(f.m.Snapshot().Queue) != 0 {
		t.Error("invalid request should not be queued")
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	m, err := New(newBlockingCustody(false), nil, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	closeMediator(t, m)
	if _, err := m.Submit(context.Background(), action.NewActionRequest{Title: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close: err = %v, want ErrClosed", err)
	}
}

func TestSubmitAndWait(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.m.SubmitAndWait(ctx, action.NewActionRequest{Title: "no decision"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded while awaiting the operator", err)
	}
}

func TestOutcomeRetention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutcomeRetentionSize = 1
	f := newFixture(t, cfg, wallet.Unlocked())

	a := submit(t, f.m, "a", "")
	_ = f.m.Decide(a.ID(), false)
	b := submit(t, f.m, "b", "")
	_ = f.m.Decide(b.ID(), false)

	if _, ok := f.m.Outcome(a.ID()); ok {
		t.Error("oldest outcome should be evicted past the size cap")
	}
	if o, ok := f.m.Outcome(b.ID()); !ok || o.Status != action.StatusRejected {
		t.Errorf("Outcome(b) = %+v %v", o, ok)
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked())
	p := submit(t, f.m, "a", "")
	if err := f.m.Decide(p.ID(), true, FromSurface("cli")); err != nil {
		t.Fatal(err)
	}

	for _, typ := range []string{
		event.TypeActionEnqueued, event.TypeActionPromoted,
		event.TypeActionDecided, event.TypeActionResolved,
	} {
		if n := len(f.events.findByType(typ)); n != 1 {
			t.Errorf("%s published %d times, want 1", typ, n)
		}
	}
	decided := f.events.findByType(event.TypeActionDecided)[0].(event.ActionDecidedEvent)
	if decided.Surface != "cli" || !decided.Approved {
		t.Errorf("decided = %+v", decided)
	}

	changes := f.events.findByType(event.TypeQueueChanged)
	if len(changes) < 2 {
		t.Fatalf("queue.changed published %d times", len(changes))
	}
	var last uint64
	for _, e := range changes {
		v := e.(event.QueueChangedEvent).Snapshot.Version
		if v <= last {
			t.Errorf("snapshot versions not increasing: %d after %d", v, last)
		}
		last = v
	}
	final := changes[len(changes)-1].(event.QueueChangedEvent).Snapshot
	if len(final.Queue) != 0 {
		t.Errorf("final snapshot = %+v, want empty", final.Queue)
	}
}

func TestNew_RequiresCustody(t *testing.T) {
	if _, err := New(nil, nil, nil, DefaultConfig()); err == nil {
		t.Error("New without custody should fail")
	}
}

func TestConfigDefaults(t *testing.T) {
	got := Config{}.withDefaults()
	want := DefaultConfig()
	want.InvalidateOnLock = false
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInvariantViolationEscapesWalletUnlock(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := submit(t, f.m, "corrupted", "")

	// Put the head in decision behind the state machine's back.
	f.m.queue.Update(p.ID(), func(a *action.WalletAction) {
		a.Status = action.StatusAwaitingUser
	})

	func() {
		defer func() {
			if _, ok := recover().(*errors.InvariantViolation); !ok {
				t.Error("Unlock should re-raise the invariant violation from promotion")
			}
		}()
		f.wallet.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		f.m.Snapshot()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Snapshot blocked: mediator lock still held after the violation")
	}
}

func TestClose_SettlesWaitingSubmitters(t *testing.T) {
	f := newFixture(t, DefaultConfig(), wallet.Unlocked())

	results := make(chan error, 1)
	go func() {
		_, err := f.m.SubmitAndWait(context.Background(), action.NewActionRequest{Title: "abandoned"})
		results <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.m.Snapshot().Queue) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("action was never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	closeMediator(t, f.m)

	select {
	case err := <-results:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("SubmitAndWait err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitAndWait still blocked after Close")
	}
	if head, ok := f.m.Snapshot().Head(); !ok || head.Status != action.StatusAwaitingUser {
		t.Errorf("head after Close = %+v %v, want it left awaiting_user", head, ok)
	}
}
