package event

import (
	"time"

	"github.com/Iron-Ham/walletgate/internal/action"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier such as "queue.changed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type names.
const (
	TypeQueueChanged     = "queue.changed"
	TypeQueueInvalidated = "queue.invalidated"
	TypeActionEnqueued   = "action.enqueued"
	TypeActionPromoted   = "action.promoted"
	TypeActionDecided    = "action.decided"
	TypeActionResolved   = "action.resolved"
	TypeWalletLocked     = "wallet.locked"
	TypeWalletUnlocked   = "wallet.unlocked"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Queue Events
// -----------------------------------------------------------------------------

// QueueChangedEvent carries the full queue after a mutation.
type QueueChangedEvent struct {
	baseEvent
	Snapshot action.Snapshot
}

// NewQueueChangedEvent creates a QueueChangedEvent.
func NewQueueChangedEvent(snap action.Snapshot) QueueChangedEvent {
	return QueueChangedEvent{
		baseEvent: newBaseEvent(TypeQueueChanged),
		Snapshot:  snap,
	}
}

// QueueInvalidatedEvent is emitted after every active action was failed at
// once, typically because the wallet locked.
type QueueInvalidatedEvent struct {
	baseEvent
	Reason string
	Count  int
}

// NewQueueInvalidatedEvent creates a QueueInvalidatedEvent.
func NewQueueInvalidatedEvent(reason string, count int) QueueInvalidatedEvent {
	return QueueInvalidatedEvent{
		baseEvent: newBaseEvent(TypeQueueInvalidated),
		Reason:    reason,
		Count:     count,
	}
}

// -----------------------------------------------------------------------------
// Action Lifecycle Events
// -----------------------------------------------------------------------------

// ActionEnqueuedEvent is emitted when an originator submits an action.
type ActionEnqueuedEvent struct {
	baseEvent
	ActionID    string
	Position    uint64
	Title       string
	Amount      string
	TokenSymbol string
}

// NewActionEnqueuedEvent creates an ActionEnqueuedEvent.
func NewActionEnqueuedEvent(a action.WalletAction) ActionEnqueuedEvent {
	return ActionEnqueuedEvent{
		baseEvent:   newBaseEvent(TypeActionEnqueued),
		ActionID:    a.ID,
		Position:    a.Position,
		Title:       a.Title,
		Amount:      a.Amount,
		TokenSymbol: a.TokenSymbol,
	}
}

// ActionPromotedEvent is emitted when the head is surfaced to the operator.
type ActionPromotedEvent struct {
	baseEvent
	ActionID string
}

// NewActionPromotedEvent creates an ActionPromotedEvent.
func NewActionPromotedEvent(actionID string) ActionPromotedEvent {
	return ActionPromotedEvent{
		baseEvent: newBaseEvent(TypeActionPromoted),
		ActionID:  actionID,
	}
}

// ActionDecidedEvent is emitted when an operator decision is applied.
// Duplicate decisions do not produce this event.
type ActionDecidedEvent struct {
	baseEvent
	ActionID string
	Approved bool
	Surface  string // presentation surface that submitted the decision, if known
}

// NewActionDecidedEvent creates an ActionDecidedEvent.
func NewActionDecidedEvent(actionID string, approved bool, surface string) ActionDecidedEvent {
	return ActionDecidedEvent{
		baseEvent: newBaseEvent(TypeActionDecided),
		ActionID:  actionID,
		Approved:  approved,
		Surface:   surface,
	}
}

// ActionResolvedEvent is emitted once per action when it reaches a terminal
// state.
type ActionResolvedEvent struct {
	baseEvent
	Action action.WalletAction
}

// NewActionResolvedEvent creates an ActionResolvedEvent.
func NewActionResolvedEvent(a action.WalletAction) ActionResolvedEvent {
	return ActionResolvedEvent{
		baseEvent: newBaseEvent(TypeActionResolved),
		Action:    a,
	}
}

// -----------------------------------------------------------------------------
// Wallet Events
// -----------------------------------------------------------------------------

// WalletLockedEvent is emitted by the custody service when it locks, for
// example on logout or session expiry.
type WalletLockedEvent struct {
	baseEvent
	Address string
}

// NewWalletLockedEvent creates a WalletLockedEvent.
func NewWalletLockedEvent(address string) WalletLockedEvent {
	return WalletLockedEvent{
		baseEvent: newBaseEvent(TypeWalletLocked),
		Address:   address,
	}
}

// WalletUnlockedEvent is emitted by the custody service when it unlocks.
type WalletUnlockedEvent struct {
	baseEvent
	Address string
}

// NewWalletUnlockedEvent creates a WalletUnlockedEvent.
func NewWalletUnlockedEvent(address string) WalletUnlockedEvent {
	return WalletUnlockedEvent{
		baseEvent: newBaseEvent(TypeWalletUnlocked),
		Address:   address,
	}
}
