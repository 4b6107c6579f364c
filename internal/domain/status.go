package domain

// MutationStatus tracks a mutation through its lifecycle. Confirmed and
// Dead are final: no transition leads back to Enqueued.
type MutationStatus int

const (
	// StatusUnconfirmed is a local optimistic result not yet queued.
	StatusUnconfirmed MutationStatus = iota
	// StatusEnqueued means the mutation waits in the durable queue.
	StatusEnqueued
	// StatusSyncing means a drain pass is executing the mutation.
	StatusSyncing
	// StatusConfirmed means the remote service accepted the mutation.
	StatusConfirmed
	// StatusDead means the mutation exhausted retries or hit a terminal error.
	StatusDead
)

// String returns a human-readable representation of the status.
func (s MutationStatus) String() string {
	switch s {
	case StatusUnconfirmed:
		return "Unconfirmed"
	case StatusEnqueued:
		return "Enqueued"
	case StatusSyncing:
		return "Syncing"
	case StatusConfirmed:
		return "Confirmed"
	case StatusDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// CanTransition reports whether moving from s to next is a legal step in
// the mutation state machine.
func (s MutationStatus) CanTransition(next MutationStatus) bool {
	switch s {
	case StatusUnconfirmed:
		return next == StatusEnqueued || next == StatusConfirmed
	case StatusEnqueued:
		return next == StatusSyncing
	case StatusSyncing:
		return next == StatusConfirmed || next == StatusDead || next == StatusEnqueued
	default:
		// Confirmed and Dead are final.
		return false
	}
}
