package protocol

import (
	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/broker"
	"github.com/Iron-Ham/walletgate/internal/errors"
	"github.com/Iron-Ham/walletgate/internal/mediator"
)

// Message types.
const (
	TypeEnqueueRequest  broker.MessageType = "enqueue.request"
	TypeEnqueueReply    broker.MessageType = "enqueue.reply"
	TypeDecisionRequest broker.MessageType = "decision.request"
	TypeDecisionReply   broker.MessageType = "decision.reply"
	TypeSnapshotRequest broker.MessageType = "snapshot.request"
	TypeSnapshotReply   broker.MessageType = "snapshot.reply"
	TypeOutcomeRequest  broker.MessageType = "outcome.request"
	TypeOutcomeReply    broker.MessageType = "outcome.reply"
	TypeCancelRequest   broker.MessageType = "cancel.request"
	TypeCancelReply     broker.MessageType = "cancel.reply"
	TypeErrorReply      broker.MessageType = "error.reply"

	TypeQueueSnapshot broker.MessageType = "queue.snapshot"
	TypeActionOutcome broker.MessageType = "action.outcome"
)

// replyTypes maps each request type to its reply type.
var replyTypes = map[broker.MessageType]broker.MessageType{
	TypeEnqueueRequest:  TypeEnqueueReply,
	TypeDecisionRequest: TypeDecisionReply,
	TypeSnapshotRequest: TypeSnapshotReply,
	TypeOutcomeRequest:  TypeOutcomeReply,
	TypeCancelRequest:   TypeCancelReply,
}

// ReplyType returns the reply type for a request type.
func ReplyType(request broker.MessageType) (broker.MessageType, bool) {
	t, ok := replyTypes[request]
	return t, ok
}

// Result carries the success flag and typed error shared by every reply.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func resultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	return Result{Error: err.Error(), Code: errors.Code(err)}
}

// Err rebuilds the server's error so callers can match sentinels.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.Code == "" {
		return errors.New(r.Error)
	}
	return errors.FromCode(r.Code, r.Error)
}

// EnqueueRequest is the payload of enqueue.request.
type EnqueueRequest = action.NewActionRequest

// EnqueueReply is the payload of enqueue.reply.
type EnqueueReply struct {
	Result
	ID string `json:"id,omitempty"`
}

// DecisionRequest is the payload of decision.request.
type DecisionRequest struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Surface  string `json:"surface,omitempty"`
}

// DecisionReply is the payload of decision.reply.
type DecisionReply struct {
	Result
}

// SnapshotReply is the payload of snapshot.reply and queue.snapshot.
type SnapshotReply = action.Snapshot

// IDRequest is the payload of outcome.request and cancel.request.
type IDRequest struct {
	ID string `json:"id"`
}

// OutcomeReply is the payload of outcome.reply.
type OutcomeReply struct {
	Result
	Found   bool              `json:"found"`
	Outcome *mediator.Outcome `json:"outcome,omitempty"`
}

// CancelReply is the payload of cancel.reply.
type CancelReply struct {
	Result
}
