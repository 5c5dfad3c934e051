// Package balance evaluates whether an action awaiting the operator should
// be presented as approvable given the wallet's balance.
//
// Evaluation is advisory. The custody service re-validates at execution time,
// so a forced approval of an insufficient action still fails there.
package balance

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/Iron-Ham/walletgate/internal/action"
)

// Reason strings reported in GateResult.
const (
	ReasonUnverified   = "balance unverified"
	ReasonInsufficient = "insufficient balance"
	ReasonOracleError  = "balance lookup failed"
)

// Oracle reports the active wallet's balance for a token. known is false when
// the oracle has no data for the symbol.
type Oracle interface {
	Balance(ctx context.Context, tokenSymbol string) (balance decimal.Decimal, known bool, err error)
}

// GateResult is the outcome of a gate evaluation.
type GateResult struct {
	// Ready is true when the approve control should be enabled.
	Ready bool `json:"ready"`
	// Insufficient is true when a known balance is below the amount.
	Insufficient bool `json:"insufficient"`
	// Verified is false when the balance was unknown.
	Verified bool `json:"verified"`
	// Reason explains a blocked or unverified result.
	Reason string `json:"reason,omitempty"`
	// Balance is the balance the result was computed from, if known.
	Balance string `json:"balance,omitempty"`
}

// Gate evaluates actions against balances.
type Gate struct {
	blockUnverified atomic.Bool
}

// NewGate creates a Gate. When blockUnverified is true, actions whose
// balance is unknown are reported as not ready.
func NewGate(blockUnverified bool) *Gate {
	g := &Gate{}
	g.blockUnverified.Store(blockUnverified)
	return g
}

// SetBlockUnverified changes the unknown-balance policy at runtime.
func (g *Gate) SetBlockUnverified(block bool) {
	g.blockUnverified.Store(block)
}

// BlockUnverified returns the current unknown-balance policy.
func (g *Gate) BlockUnverified() bool {
	return g.blockUnverified.Load()
}

// Evaluate computes the gate result for a with the given balance. A nil
// balance means unknown. It never mutates a.
func (g *Gate) Evaluate(a action.WalletAction, balance *decimal.Decimal) GateResult {
	if balance == nil {
		return GateResult{
			Ready:    !g.blockUnverified.Load(),
			Verified: false,
			Reason:   ReasonUnverified,
		}
	}

	res := GateResult{Ready: true, Verified: true, Balance: balance.String()}
	amount := a.GatingAmount()
	if amount.IsPositive() && balance.LessThan(amount) {
		res.Ready = false
		res.Insufficient = true
		res.Reason = fmt.Sprintf("%s: need %s %s, have %s",
			ReasonInsufficient, amount.String(), a.TokenSymbol, balance.String())
	}
	return res
}

// EvaluateWith queries oracle for the action's token and evaluates the
// result. Oracle errors are treated as an unknown balance.
func (g *Gate) EvaluateWith(ctx context.Context, oracle Oracle, a action.WalletAction) GateResult {
	if oracle == nil {
		return g.Evaluate(a, nil)
	}
	bal, known, err := oracle.Balance(ctx, a.TokenSymbol)
	if err != nil {
		res := g.Evaluate(a, nil)
		res.Reason = fmt.Sprintf("%s: %v", ReasonOracleError, err)
		return res
	}
	if !known {
		return g.Evaluate(a, nil)
	}
	return g.Evaluate(a, &bal)
}

// Evaluate is the stateless form of Gate.Evaluate with the default policy
// where unknown balances never block.
func Evaluate(a action.WalletAction, balance *decimal.Decimal) GateResult {
	return (&Gate{}).Evaluate(a, balance)
}

// Status converts r into the form carried in queue snapshots.
func (r GateResult) Status(actionID string) action.GateStatus {
	return action.GateStatus{
		ActionID:     actionID,
		Ready:        r.Ready,
		Insufficient: r.Insufficient,
		Verified:     r.Verified,
		Reason:       r.Reason,
		Balance:      r.Balance,
	}
}
