package ports

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Storage.Get for a missing key.
var ErrKeyNotFound = errors.New("storage: key not found")

// Storage is a durable byte-oriented key/value store surviving process
// restarts. It backs both the cache store and the on-disk queue
// representation.
//
// Set must be atomic with respect to crashes: after a restart a key holds
// either its previous value or the new one, never a torn write. Get must
// return ErrKeyNotFound (checked by the caller via errors.Is) for missing
// keys.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error

	// Keys returns every stored key, in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// MultiRemove removes all listed keys. Missing keys are not an error.
	MultiRemove(ctx context.Context, keys []string) error
}
