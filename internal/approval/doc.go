// Package approval implements the state machine that governs a wallet
// action from the moment it is queued until it reaches a terminal state.
//
// The core type is [Machine], which drives an [actionqueue.Queue] through a
// fixed transition table:
//
//	queued        -> awaiting_user | rejected | failed
//	awaiting_user -> processing | rejected | failed
//	processing    -> approved | failed
//
// Any other transition is a defect. The machine panics with an
// [errors.InvariantViolation] rather than continuing with a corrupted queue.
//
// At most one action is in decision (awaiting_user or processing) at a time,
// and only the queue head may hold that status. [Machine.Promote] enforces
// both and re-reads the wallet lock flag on every call.
//
// # Usage
//
//	m := approval.NewMachine(queue, custody)
//
//	// Surface the head to the operator if the wallet is unlocked
//	id, ok := m.Promote()
//
//	// Operator approves; execution happens elsewhere
//	res, err := m.SubmitDecision(id, true)
//
//	// Custody call finished
//	final, ok := m.RecordOutcome(id, receipt, nil)
//
// # Thread Safety
//
// All methods on [Machine] are safe for concurrent use via an internal mutex.
package approval
