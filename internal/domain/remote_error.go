package domain

import "fmt"

// RemoteErrorKind classifies errors reported by the remote data service.
type RemoteErrorKind string

const (
	KindPermissionDenied RemoteErrorKind = "PermissionDenied"
	KindNotFound         RemoteErrorKind = "NotFound"
	KindUnavailable      RemoteErrorKind = "Unavailable"
	KindQuotaExceeded    RemoteErrorKind = "QuotaExceeded"
	KindDeadlineExceeded RemoteErrorKind = "DeadlineExceeded"
	KindInvalidPayload   RemoteErrorKind = "InvalidPayload"
	KindInternal         RemoteErrorKind = "Internal"
)

// RemoteError is a structured error from the remote data service.
// Adapters must translate transport-level failures into one of the kinds
// above so the reconciler can decide between retry and dead-letter.
type RemoteError struct {
	Kind    RemoteErrorKind
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether another attempt may succeed. A timeout counts
// as an ordinary retryable failure.
func (e *RemoteError) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindDeadlineExceeded, KindQuotaExceeded, KindInternal:
		return true
	default:
		return false
	}
}

// Terminal reports whether the error should fast-track an operation to the
// dead list instead of consuming the full backoff schedule.
func (e *RemoteError) Terminal() bool {
	return !e.Retryable()
}

// NewRemoteError builds a RemoteError with a formatted message.
func NewRemoteError(kind RemoteErrorKind, format string, args ...interface{}) *RemoteError {
	return &RemoteError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
