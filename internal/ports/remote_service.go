package ports

import (
	"context"
	"encoding/json"

	"github.com/InvestigateHealth/connectsync/internal/domain"
)

// RemoteService is the remote document/file store the engine reconciles
// against. Implementations own the per-call timeout; a timeout surfaces as
// a *domain.RemoteError with KindDeadlineExceeded and counts as an
// ordinary failure for retry purposes.
//
// All errors must be *domain.RemoteError so the reconciler can classify
// them as retryable or terminal.
type RemoteService interface {
	// Get fetches a record. Missing records return KindNotFound.
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)

	// Create stores a new record and returns its server-assigned ID.
	Create(ctx context.Context, collection string, data json.RawMessage) (string, error)

	// Update applies a partial update to an existing record.
	Update(ctx context.Context, collection, id string, partial json.RawMessage) error

	// Delete removes a record. Deleting a missing record returns KindNotFound.
	Delete(ctx context.Context, collection, id string) error

	// BatchCommit applies all ops atomically. The batch size is capped;
	// callers chunk with domain.ChunkBatch before calling.
	BatchCommit(ctx context.Context, ops []domain.BatchOp) error

	// UploadFile transfers a local file to remote storage and returns its
	// public URL.
	UploadFile(ctx context.Context, localPath, remotePath string, metadata map[string]string) (string, error)

	// DeleteFile removes a previously uploaded file.
	DeleteFile(ctx context.Context, ref string) error
}
