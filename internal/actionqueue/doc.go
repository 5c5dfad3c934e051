// Package actionqueue provides ordered, mutation-safe storage of wallet
// actions awaiting a human decision.
//
// Actions are kept in FIFO order by a monotonically assigned position. The
// queue itself knows nothing about approval rules; it exposes an explicit
// [Queue.Head] accessor so the approval state machine can enforce the
// at-most-one-in-decision invariant in one place instead of rescanning.
//
// Every mutating call bumps a version counter that travels with each
// snapshot, letting subscribers discard stale broadcasts.
//
// Usage:
//
//	q := actionqueue.New("PLUS")
//	id, err := q.Enqueue(action.NewActionRequest{Title: "Tip @alice", Amount: "5"})
//	head, ok := q.Head()
//	snap := q.Snapshot()
package actionqueue
