package approval

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/actionqueue"
	"github.com/Iron-Ham/walletgate/internal/errors"
)

// fakeLock is a LockState that tests can flip and that counts reads.
type fakeLock struct {
	unlocked atomic.Bool
	reads    atomic.Int32
}

func (f *fakeLock) IsUnlocked() bool {
	f.reads.Add(1)
	return f.unlocked.Load()
}

func newUnlocked() *fakeLock {
	f := &fakeLock{}
	f.unlocked.Store(true)
	return f
}

func setup(t *testing.T, titles ...string) (*Machine, []string, *fakeLock) {
	t.Helper()
	q := actionqueue.New("PLUS")
	lock := newUnlocked()
	m := NewMachine(q, lock)
	ids := make([]string, 0, len(titles))
	for _, title := range titles {
		id, err := q.Enqueue(action.NewActionRequest{Title: title, Amount: "1"})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, id)
	}
	return m, ids, lock
}

func status(t *testing.T, m *Machine, id string) action.Status {
	t.Helper()
	a, ok := m.Queue().Get(id)
	if !ok {
		t.Fatalf("action %s not in queue", id)
	}
	return a.Status
}

func TestCanTransition(t *testing.T) {
	legal := [][2]action.Status{
		{action.StatusQueued, action.StatusAwaitingUser},
		{action.StatusQueued, action.StatusRejected},
		{action.StatusQueued, action.StatusFailed},
		{action.StatusAwaitingUser, action.StatusProcessing},
		{action.StatusAwaitingUser, action.StatusRejected},
		{action.StatusAwaitingUser, action.StatusFailed},
		{action.StatusProcessing, action.StatusApproved},
		{action.StatusProcessing, action.StatusFailed},
	}
	isLegal := make(map[[2]action.Status]bool)
	for _, tr := range legal {
		isLegal[tr] = true
	}

	all := []action.Status{
		action.StatusQueued, action.StatusAwaitingUser, action.StatusProcessing,
		action.StatusApproved, action.StatusRejected, action.StatusFailed,
	}
	for _, from := range all {
		for _, to := range all {
			want := isLegal[[2]action.Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestPromote_HeadOnly(t *testing.T) {
	m, ids, _ := setup(t, "first", "second")

	id, ok := m.Promote()
	if !ok || id != ids[0] {
		t.Fatalf("Promote() = (%q, %v), want (%q, true)", id, ok, ids[0])
	}
	if got := status(t, m, ids[0]); got != action.StatusAwaitingUser {
		t.Errorf("head status = %s, want awaiting_user", got)
	}

	// Second promote is refused while the head is in decision.
	if id, ok := m.Promote(); ok {
		t.Errorf("Promote() promoted %q while head in decision", id)
	}
	if got := status(t, m, ids[1]); got != action.StatusQueued {
		t.Errorf("second status = %s, want queued", got)
	}
}

func TestPromote_DeferredWhileLocked(t *testing.T) {
	m, ids, lock := setup(t, "first")
	lock.unlocked.Store(false)

	if _, ok := m.Promote(); ok {
		t.Fatal("Promote() succeeded with wallet locked")
	}
	if got := status(t, m, ids[0]); got != action.StatusQueued {
		t.Errorf("status = %s, want queued", got)
	}

	lock.unlocked.Store(true)
	if _, ok := m.Promote(); !ok {
		t.Fatal("Promote() failed after unlock")
	}
	if lock.reads.Load() != 2 {
		t.Errorf("lock flag read %d times, want 2 (never cached)", lock.reads.Load())
	}
}

func TestPromote_EmptyQueue(t *testing.T) {
	m, _, _ := setup(t)
	if _, ok := m.Promote(); ok {
		t.Error("Promote() on empty queue should report false")
	}
}

func TestSubmitDecision(t *testing.T) {
	t.Run("approve moves to processing", func(t *testing.T) {
		m, ids, _ := setup(t, "a")
		m.Promote()

		res, err := m.SubmitDecision(ids[0], true)
		if err != nil {
			t.Fatalf("SubmitDecision: %v", err)
		}
		if !res.Applied || !res.Approved || res.Action.Status != action.StatusProcessing {
			t.Errorf("result = %+v", res)
		}
		if got := status(t, m, ids[0]); got != action.StatusProcessing {
			t.Errorf("status = %s, want processing", got)
		}
	})

	t.Run("reject resolves and removes", func(t *testing.T) {
		m, ids, _ := setup(t, "a")
		m.Promote()

		res, err := m.SubmitDecision(ids[0], false)
		if err != nil {
			t.Fatalf("SubmitDecision: %v", err)
		}
		if res.Action.Status != action.StatusRejected || res.Action.Reason != ReasonRejectedByOperator {
			t.Errorf("result action = %+v", res.Action)
		}
		if res.Action.ResolvedAt == nil {
			t.Error("ResolvedAt not set on terminal action")
		}
		if m.Queue().Len() != 0 {
			t.Errorf("queue len = %d, want 0", m.Queue().Len())
		}
		if _, ok := m.InDecision(); ok {
			t.Error("InDecision still set after reject")
		}
	})

	t.Run("duplicate approve is a no-op", func(t *testing.T) {
		m, ids, _ := setup(t, "a")
		m.Promote()
		if _, err := m.SubmitDecision(ids[0], true); err != nil {
			t.Fatal(err)
		}
		v := m.Queue().Version()

		res, err := m.SubmitDecision(ids[0], true)
		if err != nil {
			t.Fatalf("duplicate decision returned error: %v", err)
		}
		if !res.NoOp() {
			t.Error("duplicate decision should be a no-op")
		}
		if m.Queue().Version() != v {
			t.Error("duplicate decision mutated the queue")
		}
	})

	t.Run("queued action is invalid state", func(t *testing.T) {
		m, ids, _ := setup(t, "a", "b")
		m.Promote()

		_, err := m.SubmitDecision(ids[1], true)
		if !errors.Is(err, errors.ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
		if got := status(t, m, ids[1]); got != action.StatusQueued {
			t.Errorf("status = %s, want queued", got)
		}
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		m, _, _ := setup(t, "a")
		_, err := m.SubmitDecision("nope", true)
		if !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestRecordOutcome(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus action.Status
		wantReason string
	}{
		{"success", nil, action.StatusApproved, ""},
		{"custody failure", errors.NewExecutionError(errors.ErrInsufficientFunds), action.StatusFailed, "insufficient funds"},
		{"timeout", errors.ErrTimeout, action.StatusFailed, "execution timeout"},
		{"plain error", errors.New("rpc unavailable"), action.StatusFailed, "rpc unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ids, _ := setup(t, "a", "b")
			m.Promote()
			m.SubmitDecision(ids[0], true)

			receipt := &action.TxReceipt{TxHash: "0xabc"}
			final, ok := m.RecordOutcome(ids[0], receipt, tt.err)
			if !ok {
				t.Fatal("RecordOutcome returned false")
			}
			if final.Status != tt.wantStatus || final.Reason != tt.wantReason {
				t.Errorf("final = %s %q, want %s %q", final.Status, final.Reason, tt.wantStatus, tt.wantReason)
			}
			if tt.err == nil && (final.Receipt == nil || final.Receipt.TxHash != "0xabc") {
				t.Errorf("receipt = %+v", final.Receipt)
			}
			if tt.err != nil && final.Receipt != nil {
				t.Error("failed action should not carry a receipt")
			}

			// The next action can now be promoted.
			if id, ok := m.Promote(); !ok || id != ids[1] {
				t.Errorf("Promote() after outcome = (%q, %v)", id, ok)
			}
		})
	}
}

func TestRecordOutcome_NotProcessing(t *testing.T) {
	m, ids, _ := setup(t, "a")
	m.Promote()

	if _, ok := m.RecordOutcome(ids[0], nil, nil); ok {
		t.Error("RecordOutcome accepted an awaiting_user action")
	}
	if _, ok := m.RecordOutcome("missing", nil, nil); ok {
		t.Error("RecordOutcome accepted an unknown id")
	}
}

func TestCancel(t *testing.T) {
	m, ids, _ := setup(t, "a", "b")
	m.Promote()

	if _, err := m.Cancel(ids[0], ""); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("cancel head in decision: err = %v, want ErrInvalidState", err)
	}
	if _, err := m.Cancel("missing", ""); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("cancel missing: err = %v, want ErrNotFound", err)
	}

	a, err := m.Cancel(ids[1], "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if a.Status != action.StatusRejected || a.Reason != ReasonCancelled {
		t.Errorf("cancelled action = %s %q", a.Status, a.Reason)
	}
	if m.Queue().Len() != 1 {
		t.Errorf("queue len = %d, want 1", m.Queue().Len())
	}
}

func TestInvalidate(t *testing.T) {
	m, ids, _ := setup(t, "a", "b", "c")
	m.Promote()
	m.SubmitDecision(ids[0], true)

	resolved := m.Invalidate("")
	if len(resolved) != 3 {
		t.Fatalf("resolved %d actions, want 3", len(resolved))
	}
	for i, a := range resolved {
		if a.ID != ids[i] {
			t.Errorf("resolved[%d] = %s, want %s", i, a.ID, ids[i])
		}
		if a.Status != action.StatusFailed || a.Reason != "invalidated" {
			t.Errorf("resolved[%d] = %s %q, want failed invalidated", i, a.Status, a.Reason)
		}
	}
	if m.Queue().Len() != 0 {
		t.Errorf("queue len = %d, want 0", m.Queue().Len())
	}

	// A late custody result for the invalidated action is discarded.
	if _, ok := m.RecordOutcome(ids[0], &action.TxReceipt{TxHash: "late"}, nil); ok {
		t.Error("late outcome accepted after invalidation")
	}
}

func TestIllegalTransitionPanics(t *testing.T) {
	m, ids, _ := setup(t, "a")

	defer func() {
		r := recover()
		violation, ok := r.(*errors.InvariantViolation)
		if !ok {
			t.Fatalf("recovered %T (%v), want *InvariantViolation", r, r)
		}
		if violation.ActionID != ids[0] || violation.To != string(action.StatusApproved) {
			t.Errorf("violation = %+v", violation)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(ids[0], action.StatusApproved, "", nil)
}

func TestConcurrentDecisions_ExactlyOneApplied(t *testing.T) {
	m, ids, _ := setup(t, "a")
	m.Promote()

	const clicks = 20
	var applied atomic.Int32
	var wg sync.WaitGroup
	for range clicks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.SubmitDecision(ids[0], true)
			if err != nil {
				t.Errorf("SubmitDecision: %v", err)
				return
			}
			if res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Errorf("applied %d decisions, want exactly 1", applied.Load())
	}
}
