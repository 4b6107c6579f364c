package connectsync

import (
	"github.com/InvestigateHealth/connectsync/internal/domain"
)

// ConnectivityEvent reports a genuine flip of the derived offline state.
type ConnectivityEvent struct {
	Offline   bool
	Connected bool
	Reachable bool
}

// DrainStartEvent reports the start of a reconciliation pass.
type DrainStartEvent struct {
	Pending int
}

// DrainEndEvent reports the outcome of a reconciliation pass.
type DrainEndEvent struct {
	Confirmed int
	Dead      int
}

// OperationEvent reports the fate of a queued operation.
type OperationEvent struct {
	ID         string
	Kind       string
	Collection string
	TargetID   string

	// ServerID is set on a confirmed create when the server assigned an ID
	// different from the optimistic client-assigned TargetID. Embedders
	// holding the client ID should switch to it.
	ServerID string

	// Reason is set for dead-lettered operations.
	Reason string
}

// UploadEvent reports the fate of a pending upload.
type UploadEvent struct {
	ID          string
	LocalPath   string
	StoragePath string

	// URL is set for confirmed uploads.
	URL string

	// Reason is set for dropped and dead-lettered uploads.
	Reason string
}

// EventHandler receives engine events. Callbacks run synchronously on the
// engine's goroutines and must not block.
type EventHandler interface {
	OnConnectivityChange(ConnectivityEvent)
	OnDrainStart(DrainStartEvent)
	OnDrainEnd(DrainEndEvent)
	OnOperationConfirmed(OperationEvent)
	OnOperationDead(OperationEvent)
	OnUploadConfirmed(UploadEvent)
	OnUploadDropped(UploadEvent)
	OnUploadDead(UploadEvent)
}

// eventEmitterWrapper adapts EventHandler to the internal emitter interface.
type eventEmitterWrapper struct {
	handler EventHandler
}

func opEvent(op domain.QueuedOperation, reason string) OperationEvent {
	return OperationEvent{
		ID:         op.ID,
		Kind:       string(op.Kind),
		Collection: op.Collection,
		TargetID:   op.TargetID,
		Reason:     reason,
	}
}

func uploadEvent(u domain.PendingUpload, url, reason string) UploadEvent {
	return UploadEvent{
		ID:          u.ID,
		LocalPath:   u.LocalPath,
		StoragePath: u.StoragePath,
		URL:         url,
		Reason:      reason,
	}
}

func (e *eventEmitterWrapper) OnConnectivityChange(state domain.ConnectivityState) {
	if e.handler == nil {
		return
	}
	e.handler.OnConnectivityChange(ConnectivityEvent{
		Offline:   state.Offline(),
		Connected: state.Connected,
		Reachable: state.Reachable,
	})
}

func (e *eventEmitterWrapper) OnDrainStart(pending int) {
	if e.handler == nil {
		return
	}
	e.handler.OnDrainStart(DrainStartEvent{Pending: pending})
}

func (e *eventEmitterWrapper) OnDrainEnd(confirmed, dead int) {
	if e.handler == nil {
		return
	}
	e.handler.OnDrainEnd(DrainEndEvent{Confirmed: confirmed, Dead: dead})
}

func (e *eventEmitterWrapper) OnOperationConfirmed(op domain.QueuedOperation, serverID string) {
	if e.handler == nil {
		return
	}
	ev := opEvent(op, "")
	ev.ServerID = serverID
	e.handler.OnOperationConfirmed(ev)
}

func (e *eventEmitterWrapper) OnOperationDead(op domain.QueuedOperation, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnOperationDead(opEvent(op, reason))
}

func (e *eventEmitterWrapper) OnUploadConfirmed(u domain.PendingUpload, url string) {
	if e.handler == nil {
		return
	}
	e.handler.OnUploadConfirmed(uploadEvent(u, url, ""))
}

func (e *eventEmitterWrapper) OnUploadDropped(u domain.PendingUpload, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnUploadDropped(uploadEvent(u, "", reason))
}

func (e *eventEmitterWrapper) OnUploadDead(u domain.PendingUpload, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnUploadDead(uploadEvent(u, "", reason))
}
