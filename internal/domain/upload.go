package domain

import "time"

// CompletionTarget names the document field that should receive the remote
// URL once an upload finishes.
type CompletionTarget struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Field      string `json:"field"`
}

// PendingUpload is a queued binary file upload. The local file must still
// exist at replay time; a missing source is unrecoverable and the entry is
// dropped rather than retried.
type PendingUpload struct {
	ID          string            `json:"id"`
	LocalPath   string            `json:"local_path"`
	StoragePath string            `json:"storage_path"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	RetryCount  int               `json:"retry_count"`
	Completion  *CompletionTarget `json:"completion,omitempty"`
}

// DeadUpload is an upload that exhausted its retry budget.
type DeadUpload struct {
	Upload PendingUpload `json:"upload"`
	Reason string        `json:"reason"`
	DiedAt time.Time     `json:"died_at"`
}
