package domain

import "errors"

// Domain errors returned by the public API. Check with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running engine.
	ErrAlreadyRunning = errors.New("connectsync: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped engine.
	ErrNotRunning = errors.New("connectsync: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("connectsync: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("connectsync: invalid configuration")

	// ErrUnavailableOffline is returned for a read with no usable cached
	// value while the device is offline. Callers should treat it as "try
	// again when connected", not as NotFound.
	ErrUnavailableOffline = errors.New("connectsync: unavailable offline")

	// ErrUploadSourceMissing is recorded when a pending upload's local file
	// no longer exists at replay time. The upload is unrecoverable.
	ErrUploadSourceMissing = errors.New("connectsync: upload source file missing")
)
