package ports

import (
	"context"

	"github.com/InvestigateHealth/connectsync/internal/domain"
)

// Connectivity observes network reachability. Implementations debounce the
// underlying platform signal: subscribers fire only on a genuine flip of
// the derived offline boolean.
type Connectivity interface {
	// Current returns the last known state synchronously. If the platform
	// signal is unavailable, the last cached state is returned rather than
	// an error.
	Current() domain.ConnectivityState

	// Probe forces a fresh reachability check and returns the result.
	Probe(ctx context.Context) domain.ConnectivityState

	// Subscribe registers fn to be called on every offline flip. The
	// returned function removes the subscription.
	Subscribe(fn func(domain.ConnectivityState)) (unsubscribe func())
}
