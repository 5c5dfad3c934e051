// Package wallet defines the interfaces walletgate needs from the wallet
// custody service and the balance oracle, plus an in-memory development
// wallet that implements both.
//
// The mediator never sees key material. It asks the custody service whether
// it is unlocked, and hands it approved transfers to execute.
package wallet

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/balance"
)

// Custody executes approved transfers. Implementations re-validate balance
// themselves and must honor ctx cancellation.
type Custody interface {
	// IsUnlocked reports the current lock state. Callers must not cache it.
	IsUnlocked() bool
	// Address is the active wallet address.
	Address() string
	// ExecuteTransfer sends amount of tokenSymbol to recipient.
	ExecuteTransfer(ctx context.Context, recipient string, amount decimal.Decimal, tokenSymbol string) (action.TxReceipt, error)
}

// BalanceOracle reports balances for pre-approval gating.
type BalanceOracle = balance.Oracle
