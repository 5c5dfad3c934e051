// Package action defines the wallet action data model shared by the queue,
// the approval state machine and the mediator.
package action

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTokenSymbol is the platform-native reward token used when an
// originator does not name an asset.
const DefaultTokenSymbol = "PLUS"

// Status represents the lifecycle state of a wallet action.
type Status string

const (
	// StatusQueued indicates the action is waiting behind the head of the queue
	// or waiting for the wallet to unlock.
	StatusQueued Status = "queued"

	// StatusAwaitingUser indicates the action is surfaced to the operator.
	StatusAwaitingUser Status = "awaiting_user"

	// StatusProcessing indicates the operator approved and custody execution
	// is in flight.
	StatusProcessing Status = "processing"

	// StatusApproved indicates execution succeeded.
	StatusApproved Status = "approved"

	// StatusRejected indicates the operator or originator declined the action.
	StatusRejected Status = "rejected"

	// StatusFailed indicates execution failed, timed out, or was invalidated.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusFailed
}

// InDecision returns true for the two statuses only the head may hold.
func (s Status) InDecision() bool {
	return s == StatusAwaitingUser || s == StatusProcessing
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusAwaitingUser, StatusProcessing,
		StatusApproved, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Detail is one label/value row shown verbatim to the operator.
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// TxReceipt is returned by the custody service for a successful transfer.
type TxReceipt struct {
	TxHash      string    `json:"tx_hash"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	TokenSymbol string    `json:"token_symbol,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// NewActionRequest is what an originator submits.
type NewActionRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Details     []Detail `json:"details,omitempty"`
	Amount      string   `json:"amount,omitempty"`
	TokenSymbol string   `json:"tokenSymbol,omitempty"`
	Recipient   string   `json:"recipient,omitempty"`
}

// WalletAction is the unit of work held by the queue.
type WalletAction struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Details     []Detail   `json:"details,omitempty"`
	Amount      string     `json:"amount,omitempty"`
	TokenSymbol string     `json:"tokenSymbol"`
	Recipient   string     `json:"recipient,omitempty"`
	Status      Status     `json:"status"`
	Position    uint64     `json:"position"`
	Reason      string     `json:"reason,omitempty"`
	Receipt     *TxReceipt `json:"receipt,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy that shares no mutable state with a.
func (a WalletAction) Clone() WalletAction {
	cp := a
	if a.Details != nil {
		cp.Details = make([]Detail, len(a.Details))
		copy(cp.Details, a.Details)
	}
	if a.Receipt != nil {
		r := *a.Receipt
		cp.Receipt = &r
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return cp
}

// HasAmount reports whether the originator supplied an amount at all.
func (a WalletAction) HasAmount() bool {
	return strings.TrimSpace(a.Amount) != ""
}

// GatingAmount is the amount used for balance gating. Missing, malformed,
// negative or non-finite amounts gate as zero; the verbatim Amount string is
// still what the operator sees.
func (a WalletAction) GatingAmount() decimal.Decimal {
	d, ok := ParseAmount(a.Amount)
	if !ok {
		return decimal.Zero
	}
	return d
}

// ParseAmount parses a non-negative finite decimal string.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}
