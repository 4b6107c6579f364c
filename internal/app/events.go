package app

import "github.com/InvestigateHealth/connectsync/internal/domain"

// EventEmitter receives engine observations. Background reconciliation
// never surfaces errors to a caller (none is waiting), so these callbacks
// plus queue state are the only window into drain outcomes.
//
// Callbacks run synchronously on the engine's goroutines and must not
// block.
type EventEmitter interface {
	OnConnectivityChange(state domain.ConnectivityState)
	OnDrainStart(pending int)
	OnDrainEnd(confirmed, dead int)
	// OnOperationConfirmed carries the server-assigned ID when a replayed
	// create was rebound away from its client-assigned target ID; serverID
	// is empty when the ID did not change.
	OnOperationConfirmed(op domain.QueuedOperation, serverID string)
	OnOperationDead(op domain.QueuedOperation, reason string)
	OnUploadConfirmed(upload domain.PendingUpload, url string)
	OnUploadDropped(upload domain.PendingUpload, reason string)
	OnUploadDead(upload domain.PendingUpload, reason string)
}

// noopEmitter is used when no handler is registered.
type noopEmitter struct{}

func (noopEmitter) OnConnectivityChange(domain.ConnectivityState)       {}
func (noopEmitter) OnDrainStart(int)                                    {}
func (noopEmitter) OnDrainEnd(int, int)                                 {}
func (noopEmitter) OnOperationConfirmed(domain.QueuedOperation, string) {}
func (noopEmitter) OnOperationDead(domain.QueuedOperation, string)      {}
func (noopEmitter) OnUploadConfirmed(domain.PendingUpload, string)      {}
func (noopEmitter) OnUploadDropped(domain.PendingUpload, string)        {}
func (noopEmitter) OnUploadDead(domain.PendingUpload, string)           {}
