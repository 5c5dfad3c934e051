package mediator

import (
	"context"
	"time"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/errors"
)

// Config holds mediator tuning.
type Config struct {
	// DefaultToken is assigned to actions that name no token.
	DefaultToken string
	// ExecutionTimeout bounds each custody call.
	ExecutionTimeout time.Duration
	// OutcomeRetention is how long terminal outcomes stay queryable.
	OutcomeRetention time.Duration
	// OutcomeRetentionSize caps the number of retained outcomes.
	OutcomeRetentionSize int
	// InvalidateOnLock fails every active action when the wallet locks.
	InvalidateOnLock bool
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		DefaultToken:         action.DefaultTokenSymbol,
		ExecutionTimeout:     60 * time.Second,
		OutcomeRetention:     10 * time.Minute,
		OutcomeRetentionSize: 1024,
		InvalidateOnLock:     true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultToken == "" {
		c.DefaultToken = d.DefaultToken
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = d.ExecutionTimeout
	}
	if c.OutcomeRetention <= 0 {
		c.OutcomeRetention = d.OutcomeRetention
	}
	if c.OutcomeRetentionSize <= 0 {
		c.OutcomeRetentionSize = d.OutcomeRetentionSize
	}
	return c
}

// Outcome is the terminal result delivered to an originator.
type Outcome struct {
	ID         string            `json:"id"`
	Status     action.Status     `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Receipt    *action.TxReceipt `json:"receipt,omitempty"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// OutcomeOf builds the outcome for a resolved action.
func OutcomeOf(a action.WalletAction) Outcome {
	o := Outcome{ID: a.ID, Status: a.Status, Reason: a.Reason}
	if a.Receipt != nil {
		r := *a.Receipt
		o.Receipt = &r
	}
	if a.ResolvedAt != nil {
		o.ResolvedAt = *a.ResolvedAt
	}
	return o
}

// Approved reports whether the action was executed (or authorized).
func (o Outcome) Approved() bool {
	return o.Status == action.StatusApproved
}

// Err returns nil for approved and rejected outcomes and an
// *errors.ExecutionError for failed ones.
func (o Outcome) Err() error {
	if o.Status != action.StatusFailed {
		return nil
	}
	return &errors.ExecutionError{Reason: o.Reason}
}

// Pending is an originator's handle on a submitted action. It settles
// exactly once, when the action reaches a terminal state.
type Pending struct {
	id      string
	done    chan struct{}
	stopped <-chan struct{}
	outcome Outcome
}

func newPending(id string, stopped <-chan struct{}) *Pending {
	return &Pending{id: id, done: make(chan struct{}), stopped: stopped}
}

// ID returns the assigned action id.
func (p *Pending) ID() string {
	return p.id
}

// Done is closed when the outcome is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the action resolves, the mediator closes or ctx ends.
// An action awaiting the operator has no timeout of its own.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-p.stopped:
		if o, ok := p.Outcome(); ok {
			return o, nil
		}
		return Outcome{}, ErrClosed
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the outcome without blocking.
func (p *Pending) Outcome() (Outcome, bool) {
	select {
	case <-p.done:
		return p.outcome, true
	default:
		return Outcome{}, false
	}
}

// settle must be called at most once.
func (p *Pending) settle(o Outcome) {
	p.outcome = o
	close(p.done)
}
