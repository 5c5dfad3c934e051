package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/errors"
	"github.com/Iron-Ham/walletgate/internal/event"
)

// DevWallet is an in-memory Custody and BalanceOracle for local runs and
// tests. Lock and Unlock publish wallet events on the bus.
type DevWallet struct {
	mu       sync.Mutex
	address  string
	unlocked bool
	balances map[string]decimal.Decimal
	latency  time.Duration
	failNext error
	bus      *event.Bus
	history  []action.TxReceipt
}

// DevOption configures a DevWallet.
type DevOption func(*DevWallet)

// WithBalance seeds the balance of a token.
func WithBalance(token string, amount decimal.Decimal) DevOption {
	return func(w *DevWallet) {
		w.balances[strings.ToUpper(token)] = amount
	}
}

// WithLatency makes every transfer take d, or until its context ends.
func WithLatency(d time.Duration) DevOption {
	return func(w *DevWallet) {
		w.latency = d
	}
}

// WithBus publishes lock and unlock events on bus.
func WithBus(bus *event.Bus) DevOption {
	return func(w *DevWallet) {
		w.bus = bus
	}
}

// Unlocked starts the wallet unlocked.
func Unlocked() DevOption {
	return func(w *DevWallet) {
		w.unlocked = true
	}
}

// NewDevWallet creates a locked DevWallet with the given address.
func NewDevWallet(address string, opts ...DevOption) *DevWallet {
	w := &DevWallet{
		address:  address,
		balances: make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsUnlocked implements Custody.
func (w *DevWallet) IsUnlocked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unlocked
}

// Address implements Custody.
func (w *DevWallet) Address() string {
	return w.address
}

// Unlock unlocks the wallet and publishes wallet.unlocked.
func (w *DevWallet) Unlock() {
	w.setLocked(false)
}

// Lock locks the wallet and publishes wallet.locked.
func (w *DevWallet) Lock() {
	w.setLocked(true)
}

func (w *DevWallet) setLocked(locked bool) {
	w.mu.Lock()
	changed := w.unlocked == locked
	w.unlocked = !locked
	bus := w.bus
	w.mu.Unlock()

	if !changed || bus == nil {
		return
	}
	if locked {
		bus.Publish(event.NewWalletLockedEvent(w.address))
	} else {
		bus.Publish(event.NewWalletUnlockedEvent(w.address))
	}
}

// SetBalance replaces the balance of token.
func (w *DevWallet) SetBalance(token string, amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[strings.ToUpper(token)] = amount
}

// FailNext makes the next transfer fail with err.
func (w *DevWallet) FailNext(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failNext = err
}

// History returns receipts of completed transfers in execution order.
func (w *DevWallet) History() []action.TxReceipt {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]action.TxReceipt(nil), w.history...)
}

// Balance implements BalanceOracle. Tokens never seeded are unknown.
func (w *DevWallet) Balance(_ context.Context, token string) (decimal.Decimal, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.balances[strings.ToUpper(token)]
	return b, ok, nil
}

// ExecuteTransfer implements Custody. It fails with ErrWalletLocked when
// locked and ErrInsufficientFunds when a tracked balance is too low. Tokens
// without a tracked balance are sent without a check.
func (w *DevWallet) ExecuteTransfer(ctx context.Context, recipient string, amount decimal.Decimal, token string) (action.TxReceipt, error) {
	if w.latency > 0 {
		timer := time.NewTimer(w.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return action.TxReceipt{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return action.TxReceipt{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.unlocked {
		return action.TxReceipt{}, errors.ErrWalletLocked
	}
	if err := w.failNext; err != nil {
		w.failNext = nil
		return action.TxReceipt{}, err
	}
	key := strings.ToUpper(token)
	if bal, tracked := w.balances[key]; tracked {
		if bal.LessThan(amount) {
			return action.TxReceipt{}, fmt.Errorf("%w: have %s %s, need %s",
				errors.ErrInsufficientFunds, bal, token, amount)
		}
		w.balances[key] = bal.Sub(amount)
	}

	receipt := action.TxReceipt{
		TxHash:      "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		From:        w.address,
		To:          recipient,
		Amount:      amount.String(),
		TokenSymbol: token,
		ExecutedAt:  time.Now(),
	}
	w.history = append(w.history, receipt)
	return receipt, nil
}
