package actionqueue

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/errors"
)

// Queue manages the active wallet actions in position order.
// All methods are safe for concurrent use via an internal mutex.
type Queue struct {
	mu           sync.Mutex
	actions      map[string]*action.WalletAction // id -> action
	order        []string                        // ids sorted by position
	maxPosition  uint64
	version      uint64
	defaultToken string
	newID        func() string
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator replaces the UUID generator, mostly for tests.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) {
		q.newID = gen
	}
}

// New creates an empty Queue. Actions without a token symbol are assigned
// defaultToken; an empty defaultToken falls back to action.DefaultTokenSymbol.
func New(defaultToken string, opts ...Option) *Queue {
	if defaultToken == "" {
		defaultToken = action.DefaultTokenSymbol
	}
	q := &Queue{
		actions:      make(map[string]*action.WalletAction),
		defaultToken: defaultToken,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates req, assigns an id and the next position, and appends
// the action in the queued state. It fails only on a missing title.
func (q *Queue) Enqueue(req action.NewActionRequest) (string, error) {
	if strings.TrimSpace(req.Title) == "" {
		return "", fmt.Errorf("enqueue: %w", errors.NewValidationError("title", "must not be empty"))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.newID()
	if _, exists := q.actions[id]; exists {
		return "", fmt.Errorf("enqueue: duplicate action id %s", id)
	}

	token := strings.TrimSpace(req.TokenSymbol)
	if token == "" {
		token = q.defaultToken
	}

	var details []action.Detail
	if len(req.Details) > 0 {
		details = make([]action.Detail, len(req.Details))
		copy(details, req.Details)
	}

	q.maxPosition++
	q.actions[id] = &action.WalletAction{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Details:     details,
		Amount:      req.Amount,
		TokenSymbol: token,
		Recipient:   req.Recipient,
		Status:      action.StatusQueued,
		Position:    q.maxPosition,
		CreatedAt:   time.Now(),
	}
	q.order = append(q.order, id)
	q.version++
	return id, nil
}

// Head returns the lowest-position action still in the queue.
func (q *Queue) Head() (action.WalletAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return action.WalletAction{}, false
	}
	return q.actions[q.order[0]].Clone(), true
}

// Get returns a copy of the action with the given id.
func (q *Queue) Get(id string) (action.WalletAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.actions[id]
	if !ok {
		return action.WalletAction{}, false
	}
	return a.Clone(), true
}

// Update applies fn to the stored action under the queue lock and bumps the
// version. It returns false if the id is absent. fn must not retain the
// pointer it receives.
func (q *Queue) Update(id string, fn func(*action.WalletAction)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.actions[id]
	if !ok {
		return false
	}
	fn(a)
	q.version++
	return true
}

// Remove deletes the action with the given id. Removing an absent id is a
// no-op and does not change the version.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.actions[id]; !ok {
		return
	}
	delete(q.actions, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.version++
}

// Snapshot returns deep copies of every action ordered by position,
// together with the version they were read at.
func (q *Queue) Snapshot() ([]action.WalletAction, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]action.WalletAction, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.actions[id].Clone())
	}
	return out, q.version
}

// IDs returns the active ids in position order.
func (q *Queue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, len(q.order))
	copy(ids, q.order)
	return ids
}

// Version returns the current mutation counter.
func (q *Queue) Version() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.version
}

// Len returns the number of active actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Status returns per-status counts for the active queue.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStatus
	s.Total = len(q.order)
	for _, a := range q.actions {
		switch a.Status {
		case action.StatusQueued:
			s.Queued++
		case action.StatusAwaitingUser:
			s.AwaitingUser++
		case action.StatusProcessing:
			s.Processing++
		}
	}
	return s
}

// QueueStatus is a snapshot of the queue's current state counts.
type QueueStatus struct {
	Total        int `json:"total"`
	Queued       int `json:"queued"`
	AwaitingUser int `json:"awaiting_user"`
	Processing   int `json:"processing"`
}
