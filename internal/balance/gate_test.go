package balance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/Iron-Ham/walletgate/internal/action"
)

type stubOracle struct {
	balances map[string]decimal.Decimal
	err      error
}

func (s stubOracle) Balance(_ context.Context, token string) (decimal.Decimal, bool, error) {
	if s.err != nil {
		return decimal.Zero, false, s.err
	}
	b, ok := s.balances[token]
	return b, ok, nil
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name             string
		amount           string
		balance          *decimal.Decimal
		wantReady        bool
		wantInsufficient bool
		wantVerified     bool
	}{
		{"scenario A: sufficient", "5", dec("10"), true, false, true},
		{"scenario B: insufficient", "5", dec("2"), false, true, true},
		{"exact balance", "5", dec("5"), true, false, true},
		{"unknown balance", "1000000", nil, true, false, false},
		{"zero amount", "0", dec("0"), true, false, true},
		{"no amount", "", dec("0"), true, false, true},
		{"malformed amount gates as zero", "abc", dec("0"), true, false, true},
		{"negative amount gates as zero", "-5", dec("0"), true, false, true},
		{"fractional insufficient", "0.0000001", dec("0.00000001"), false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := action.WalletAction{Title: "t", Amount: tt.amount, TokenSymbol: "PLUS"}
			got := Evaluate(a, tt.balance)
			if got.Ready != tt.wantReady || got.Insufficient != tt.wantInsufficient || got.Verified != tt.wantVerified {
				t.Errorf("Evaluate() = %+v, want ready=%v insufficient=%v verified=%v",
					got, tt.wantReady, tt.wantInsufficient, tt.wantVerified)
			}
		})
	}
}

func TestEvaluate_UnknownReason(t *testing.T) {
	got := Evaluate(action.WalletAction{Amount: "5"}, nil)
	if got.Reason != ReasonUnverified {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonUnverified)
	}
}

func TestGate_BlockUnverified(t *testing.T) {
	g := NewGate(true)
	a := action.WalletAction{Amount: "5"}

	if got := g.Evaluate(a, nil); got.Ready || got.Insufficient {
		t.Errorf("blocking gate with unknown balance = %+v, want not ready and not insufficient", got)
	}

	g.SetBlockUnverified(false)
	if got := g.Evaluate(a, nil); !got.Ready {
		t.Errorf("non-blocking gate with unknown balance = %+v, want ready", got)
	}
	if g.BlockUnverified() {
		t.Error("BlockUnverified() = true after SetBlockUnverified(false)")
	}
}

func TestEvaluateWith(t *testing.T) {
	g := NewGate(false)
	oracle := stubOracle{balances: map[string]decimal.Decimal{"PLUS": decimal.NewFromInt(2)}}

	got := g.EvaluateWith(context.Background(), oracle, action.WalletAction{Amount: "5", TokenSymbol: "PLUS"})
	if !got.Insufficient || got.Balance != "2" {
		t.Errorf("known token = %+v", got)
	}

	got = g.EvaluateWith(context.Background(), oracle, action.WalletAction{Amount: "5", TokenSymbol: "USDC"})
	if !got.Ready || got.Verified {
		t.Errorf("unknown token = %+v", got)
	}

	failing := stubOracle{err: errors.New("rpc down")}
	got = g.EvaluateWith(context.Background(), failing, action.WalletAction{Amount: "5", TokenSymbol: "PLUS"})
	if got.Verified || !strings.HasPrefix(got.Reason, ReasonOracleError) {
		t.Errorf("oracle error = %+v", got)
	}

	got = g.EvaluateWith(context.Background(), nil, action.WalletAction{Amount: "5"})
	if got.Verified {
		t.Errorf("nil oracle = %+v", got)
	}
}

// Property: insufficient iff a known balance is strictly less than a
// strictly positive amount, and unknown balances are always ready.
func TestProperty_GateCorrectness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("insufficient iff balance < positive amount", prop.ForAll(
		func(amountCents, balanceCents int64) bool {
			amount := decimal.New(amountCents, -2)
			balance := decimal.New(balanceCents, -2)
			a := action.WalletAction{Amount: amount.String()}

			got := Evaluate(a, &balance)
			want := amount.IsPositive() && balance.LessThan(amount)
			if amount.IsNegative() {
				want = false
			}
			return got.Insufficient == want && got.Ready == !want
		},
		gen.Int64Range(-1000, 100000),
		gen.Int64Range(0, 100000),
	))

	properties.Property("unknown balance is always ready", prop.ForAll(
		func(amountCents int64) bool {
			a := action.WalletAction{Amount: decimal.New(amountCents, -2).String()}
			got := Evaluate(a, nil)
			return got.Ready && !got.Insufficient
		},
		gen.Int64Range(-1000, 1000000),
	))

	properties.TestingRun(t)
}

func TestGateResult_Status(t *testing.T) {
	r := GateResult{Ready: false, Insufficient: true, Verified: true, Reason: "low", Balance: "2"}
	s := r.Status("act-1")
	if s.ActionID != "act-1" || s.Ready || !s.Insufficient || !s.Verified || s.Reason != "low" || s.Balance != "2" {
		t.Errorf("Status() = %+v", s)
	}
}
