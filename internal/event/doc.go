// Package event provides a synchronous pub-sub bus for domain events inside
// one walletgate process.
//
// The mediator publishes queue and action lifecycle events; the wallet
// custody service publishes lock and unlock events; the notification
// channel and the protocol server subscribe. No component needs a direct
// reference to the others.
//
// # Event Types
//
// Queue:
//   - [QueueChangedEvent] ("queue.changed"): full snapshot after any mutation
//   - [QueueInvalidatedEvent] ("queue.invalidated"): every action failed at once
//
// Action lifecycle:
//   - [ActionEnqueuedEvent] ("action.enqueued")
//   - [ActionPromotedEvent] ("action.promoted")
//   - [ActionDecidedEvent] ("action.decided")
//   - [ActionResolvedEvent] ("action.resolved")
//
// Wallet:
//   - [WalletLockedEvent] ("wallet.locked")
//   - [WalletUnlockedEvent] ("wallet.unlocked")
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers are called synchronously on the
// publisher's goroutine and are protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	bus.Subscribe(event.TypeWalletUnlocked, func(e event.Event) {
//	    mediator.TryPromote()
//	})
//
//	event.LogEvents(bus, logger)
//
//	bus.Publish(event.NewWalletUnlockedEvent(addr))
package event
