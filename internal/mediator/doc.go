// Package mediator is the single owner of the wallet action queue. It
// accepts actions from originators, surfaces them one at a time to a human
// operator, executes approved transfers through the wallet custody service,
// and settles each originator's pending handle with the terminal outcome.
//
// # Ownership
//
// Every queue and state machine mutation happens under one mutex held by
// [Mediator]. Events are published on the bus after the mutex is released,
// so bus handlers may call back into the mediator. Custody execution runs on
// its own goroutine bounded by the configured timeout; its result re-enters
// through the same mutex.
//
// # Usage
//
//	m, err := mediator.New(custody, oracle, bus, mediator.DefaultConfig(),
//	    mediator.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer m.Close(ctx)
//
//	p, err := m.Submit(ctx, action.NewActionRequest{Title: "Tip @alice", Amount: "5"})
//	// operator side
//	err = m.Decide(p.ID(), true, mediator.FromSurface("console"))
//	// originator side
//	outcome, err := p.Wait(ctx)
package mediator
