package mediator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/event"
	"github.com/Iron-Ham/walletgate/internal/wallet"
)

// eventCollector gathers events from the bus for assertions.
type eventCollector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *eventCollector) handler(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) findByType(eventType string) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found []event.Event
	for _, e := range c.events {
		if e.EventType() == eventType {
			found = append(found, e)
		}
	}
	return found
}

// blockingCustody holds every transfer until release is closed. When
// ignoreCtx is set it also ignores cancellation, like a stuck RPC.
type blockingCustody struct {
	release   chan struct{}
	ignoreCtx bool
	calls     atomic.Int32
}

func newBlockingCustody(ignoreCtx bool) *blockingCustody {
	return &blockingCustody{release: make(chan struct{}), ignoreCtx: ignoreCtx}
}

func (b *blockingCustody) IsUnlocked() bool { return true }
func (b *blockingCustody) Address() string  { return "0xblock" }

func (b *blockingCustody) ExecuteTransfer(ctx context.Context, to string, amount decimal.Decimal, token string) (action.TxReceipt, error) {
	b.calls.Add(1)
	if b.ignoreCtx {
		<-b.release
	} else {
		select {
		case <-b.release:
		case <-ctx.Done():
			return action.TxReceipt{}, ctx.Err()
		}
	}
	return action.TxReceipt{TxHash: "0xlate", To: to, Amount: amount.String(), TokenSymbol: token}, nil
}

type fixture struct {
	m      *Mediator
	wallet *wallet.DevWallet
	bus    *event.Bus
	events *eventCollector
}

func newFixture(t *testing.T, cfg Config, walletOpts ...wallet.DevOption) *fixture {
	t.Helper()
	bus := event.NewBus()
	walletOpts = append([]wallet.DevOption{wallet.WithBus(bus)}, walletOpts...)
	w := wallet.NewDevWallet("0xdev", walletOpts...)
	m, err := New(w, w, bus, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := &eventCollector{}
	bus.SubscribeAll(c.handler)
	t.Cleanup(func() { closeMediator(t, m) })
	return &fixture{m: m, wallet: w, bus: bus, events: c}
}

func closeMediator(t *testing.T, m *Mediator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func waitOutcome(t *testing.T, p *Pending) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait(%s): %v", p.ID(), err)
	}
	return o
}

func submit(t *testing.T, m *Mediator, title, amount string) *Pending {
	t.Helper()
	p, err := m.Submit(context.Background(), action.NewActionRequest{Title: title, Amount: amount, TokenSymbol: "PLUS"})
	if err != nil {
		t.Fatalf("Submit(%s): %v", title, err)
	}
	return p
}

func statusOf(t *testing.T, m *Mediator, id string) action.Status {
	t.Helper()
	for _, a := range m.Snapshot().Queue {
		if a.ID == id {
			return a.Status
		}
	}
	if o, ok := m.Outcome(id); ok {
		return o.Status
	}
	t.Fatalf("action %s not found", id)
	return ""
}

func plus(n int64) wallet.DevOption {
	return wallet.WithBalance("PLUS", decimal.NewFromInt(n))
}
