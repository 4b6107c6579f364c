package domain

import (
	"encoding/json"
	"time"
)

// OpKind identifies the type of a queued mutation.
type OpKind string

const (
	OpCreate           OpKind = "create"
	OpUpdate           OpKind = "update"
	OpDelete           OpKind = "delete"
	OpIncrementCounter OpKind = "incrementCounter"
	OpAuditLog         OpKind = "auditLog"
	OpShareRecord      OpKind = "shareRecord"
)

// OpKinds lists every queue namespace in a stable order. The queue loads
// and persists one storage key per kind.
var OpKinds = []OpKind{
	OpCreate, OpUpdate, OpDelete, OpIncrementCounter, OpAuditLog, OpShareRecord,
}

// Valid reports whether k is a known operation kind.
func (k OpKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete, OpIncrementCounter, OpAuditLog, OpShareRecord:
		return true
	default:
		return false
	}
}

// QueuedOperation is a not-yet-applied document mutation. It is pure data:
// the reconciler dispatches on Kind, so an operation survives a process
// restart and replays exactly as it was enqueued.
type QueuedOperation struct {
	ID         string          `json:"id"`
	Kind       OpKind          `json:"kind"`
	Collection string          `json:"collection"`
	TargetID   string          `json:"target_id"`
	Actor      string          `json:"actor,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`

	// Seq orders operations across kind namespaces. Assigned at enqueue,
	// strictly increasing within one queue instance and restored on load.
	Seq int64 `json:"seq"`
}

// TargetKey groups operations that must retain FIFO order relative to each
// other. Cross-target interleaving is allowed.
func (op QueuedOperation) TargetKey() string {
	return op.Collection + "/" + op.TargetID
}

// DedupKey identifies auditLog/shareRecord operations that are considered
// duplicates when enqueued within the dedup window.
func (op QueuedOperation) DedupKey() string {
	return string(op.Kind) + "|" + op.TargetID + "|" + op.Actor
}

// Dedupable reports whether the operation participates in enqueue-time
// deduplication. Document mutations never dedup.
func (op QueuedOperation) Dedupable() bool {
	return op.Kind == OpAuditLog || op.Kind == OpShareRecord
}

// DeadOperation is a queued operation that exhausted its retry budget or
// hit a terminal remote error. Dead operations are inspectable and never
// retried automatically.
type DeadOperation struct {
	Op     QueuedOperation `json:"op"`
	Reason string          `json:"reason"`
	DiedAt time.Time       `json:"died_at"`
}
