package approval

import (
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/actionqueue"
	"github.com/Iron-Ham/walletgate/internal/errors"
)

// Rejection reasons recorded on actions that end in StatusRejected.
const (
	ReasonRejectedByOperator = "rejected by operator"
	ReasonCancelled          = "cancelled by originator"
)

// LockState reports whether the wallet custody service is unlocked.
// It is consulted on every promotion and never cached.
type LockState interface {
	IsUnlocked() bool
}

// DecisionResult describes how SubmitDecision handled a decision.
type DecisionResult struct {
	// Applied is false when the decision was a duplicate and ignored.
	Applied bool
	// Approved echoes the decision that was applied.
	Approved bool
	// Action is the action after the transition.
	Action action.WalletAction
}

// NoOp reports whether the decision was ignored as a duplicate.
func (r DecisionResult) NoOp() bool {
	return !r.Applied
}

var transitions = map[action.Status][]action.Status{
	action.StatusQueued:       {action.StatusAwaitingUser, action.StatusRejected, action.StatusFailed},
	action.StatusAwaitingUser: {action.StatusProcessing, action.StatusRejected, action.StatusFailed},
	action.StatusProcessing:   {action.StatusApproved, action.StatusFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to action.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine applies lifecycle transitions to the actions in a queue.
type Machine struct {
	mu         sync.Mutex
	queue      *actionqueue.Queue
	wallet     LockState
	inDecision string // id of the awaiting_user or processing action
	now        func() time.Time
}

// NewMachine creates a Machine over q. wallet is consulted before every
// promotion.
func NewMachine(q *actionqueue.Queue, wallet LockState) *Machine {
	return &Machine{
		queue:  q,
		wallet: wallet,
		now:    time.Now,
	}
}

// Queue returns the queue the machine drives.
func (m *Machine) Queue() *actionqueue.Queue {
	return m.queue
}

// InDecision returns the id of the action currently awaiting the operator
// or being executed.
func (m *Machine) InDecision() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inDecision, m.inDecision != ""
}

// Promote moves the queue head to awaiting_user. It does nothing when an
// action is already in decision, the queue is empty, or the wallet is
// locked. The returned id is the promoted action.
func (m *Machine) Promote() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inDecision != "" {
		return "", false
	}
	head, ok := m.queue.Head()
	if !ok {
		return "", false
	}
	if head.Status != action.StatusQueued {
		panic(&errors.InvariantViolation{
			ActionID: head.ID,
			From:     string(head.Status),
			To:       string(action.StatusAwaitingUser),
			Detail:   "head is in decision but no decision is tracked",
		})
	}
	if m.wallet == nil || !m.wallet.IsUnlocked() {
		return "", false
	}

	m.apply(head.ID, action.StatusAwaitingUser, "", nil)
	m.inDecision = head.ID
	return head.ID, true
}

// SubmitDecision applies an operator decision to the action in decision.
//
// Approving moves the action to processing; the caller is responsible for
// executing it and reporting back with RecordOutcome. Rejecting resolves the
// action and removes it from the queue.
//
// A decision for an action that is already processing is a duplicate and
// returns a result with Applied false. A queued action returns
// ErrInvalidState and an unknown id returns ErrNotFound.
func (m *Machine) SubmitDecision(id string, approved bool) (DecisionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.queue.Get(id)
	if !ok {
		return DecisionResult{}, fmt.Errorf("%w: %s", errors.ErrNotFound, id)
	}

	switch a.Status {
	case action.StatusProcessing:
		return DecisionResult{Applied: false, Approved: approved, Action: a}, nil
	case action.StatusAwaitingUser:
	default:
		return DecisionResult{}, fmt.Errorf("%w: action %s is %s, not awaiting a decision",
			errors.ErrInvalidState, id, a.Status)
	}

	if approved {
		updated := m.apply(id, action.StatusProcessing, "", nil)
		return DecisionResult{Applied: true, Approved: true, Action: updated}, nil
	}

	updated := m.apply(id, action.StatusRejected, ReasonRejectedByOperator, nil)
	m.queue.Remove(id)
	m.inDecision = ""
	return DecisionResult{Applied: true, Approved: false, Action: updated}, nil
}

// RecordOutcome resolves a processing action. A nil execErr records
// approved with receipt; otherwise the action fails with the execution
// reason. It returns false, without changing anything, when the action is no
// longer processing (for example after invalidation).
func (m *Machine) RecordOutcome(id string, receipt *action.TxReceipt, execErr error) (action.WalletAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.queue.Get(id)
	if !ok || a.Status != action.StatusProcessing {
		return action.WalletAction{}, false
	}

	var updated action.WalletAction
	if execErr == nil {
		updated = m.apply(id, action.StatusApproved, "", receipt)
	} else {
		updated = m.apply(id, action.StatusFailed, reasonFor(execErr), nil)
	}
	m.queue.Remove(id)
	m.inDecision = ""
	return updated, true
}

// Cancel rejects a queued action that has not been surfaced yet.
func (m *Machine) Cancel(id, reason string) (action.WalletAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.queue.Get(id)
	if !ok {
		return action.WalletAction{}, fmt.Errorf("%w: %s", errors.ErrNotFound, id)
	}
	if a.Status != action.StatusQueued {
		return action.WalletAction{}, fmt.Errorf("%w: cannot cancel action %s in status %s",
			errors.ErrInvalidState, id, a.Status)
	}
	if reason == "" {
		reason = ReasonCancelled
	}

	updated := m.apply(id, action.StatusRejected, reason, nil)
	m.queue.Remove(id)
	return updated, nil
}

// Invalidate fails every active action with reason and empties the queue.
// The resolved actions are returned in position order.
func (m *Machine) Invalidate(reason string) []action.WalletAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason == "" {
		reason = errors.ErrInvalidated.Error()
	}

	ids := m.queue.IDs()
	resolved := make([]action.WalletAction, 0, len(ids))
	for _, id := range ids {
		resolved = append(resolved, m.apply(id, action.StatusFailed, reason, nil))
		m.queue.Remove(id)
	}
	m.inDecision = ""
	return resolved
}

// apply performs one checked transition on the stored action and returns a
// copy of the result. Callers hold m.mu.
func (m *Machine) apply(id string, to action.Status, reason string, receipt *action.TxReceipt) action.WalletAction {
	var out action.WalletAction
	found := m.queue.Update(id, func(a *action.WalletAction) {
		if !CanTransition(a.Status, to) {
			panic(&errors.InvariantViolation{
				ActionID: id,
				From:     string(a.Status),
				To:       string(to),
			})
		}
		a.Status = to
		if reason != "" {
			a.Reason = reason
		}
		if receipt != nil {
			r := *receipt
			a.Receipt = &r
		}
		if to.IsTerminal() {
			t := m.now()
			a.ResolvedAt = &t
		}
		out = a.Clone()
	})
	if !found {
		panic(&errors.InvariantViolation{ActionID: id, To: string(to), Detail: "action vanished mid-transition"})
	}
	return out
}

func reasonFor(err error) string {
	var execErr *errors.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Reason
	}
	return errors.NewExecutionError(err).Reason
}
