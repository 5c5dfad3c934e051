// Package protocol exposes a mediator over a [broker.Broker].
//
// A [Server] consumes request envelopes on the "requests" topic, applies
// them to the mediator and replies on the topic named by each request's
// ReplyTo. It also broadcasts every queue snapshot, with the balance gate
// result for the head, and every terminal outcome on the "broadcast" topic.
//
// A [Client] is the originator and remote console side: it sends requests,
// waits for correlated replies and follows broadcasts.
//
// Request and reply payloads:
//
//	enqueue.request   {title, description?, details?, amount?, tokenSymbol?, recipient?}
//	enqueue.reply     {id} or {error, code}
//	decision.request  {id, approved, surface?}
//	decision.reply    {success, error?, code?}
//	snapshot.request  {}
//	snapshot.reply    {version, queue, gate?}
//	outcome.request   {id}
//	outcome.reply     {found, outcome?}
//	cancel.request    {id}
//	cancel.reply      {success, error?, code?}
//
// Broadcasts are queue.snapshot {version, queue, gate?} and
// action.outcome {id, status, reason?, receipt?}.
package protocol
