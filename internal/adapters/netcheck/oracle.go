// Package netcheck implements the Connectivity port by probing an HTTP
// endpoint. It debounces the raw signal: subscribers only hear about
// genuine flips of the derived offline boolean, never about repeated
// identical probe results.
package netcheck

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/internal/ports"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// DefaultProbeTimeout bounds a single reachability check.
const DefaultProbeTimeout = 5 * time.Second

// Oracle probes a URL to decide reachability. Interface presence decides
// Connected; a successful probe decides Reachable.
type Oracle struct {
	probeURL string
	client   ports.HTTPClient
	logger   log.Logger

	mu      sync.Mutex
	state   domain.ConnectivityState
	known   bool
	nextSub int
	subs    map[int]func(domain.ConnectivityState)
}

// NewOracle creates an Oracle probing probeURL. A HEAD request returning
// any HTTP response counts as reachable.
func NewOracle(probeURL string, client ports.HTTPClient, logger log.Logger) *Oracle {
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &Oracle{
		probeURL: probeURL,
		client:   client,
		logger:   logger,
		subs:     make(map[int]func(domain.ConnectivityState)),
	}
}

// Current returns the last known state synchronously. Before the first
// probe the oracle optimistically reports online, matching platforms that
// hand out a cached signal at startup.
func (o *Oracle) Current() domain.ConnectivityState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.known {
		return domain.ConnectivityState{Connected: true, Reachable: true}
	}
	return o.state
}

// Probe forces a fresh reachability check. If the check itself cannot run
// (for example, the probe URL is unset) the last cached state is returned
// rather than an error.
func (o *Oracle) Probe(ctx context.Context) domain.ConnectivityState {
	if o.probeURL == "" {
		return o.Current()
	}

	state := domain.ConnectivityState{
		Connected: hasNetworkInterface(),
	}
	if state.Connected {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, o.probeURL, nil)
		if err == nil {
			resp, rerr := o.client.Do(req)
			if rerr == nil {
				resp.Body.Close()
				state.Reachable = true
			}
		}
	}

	o.setState(state)
	return state
}

// Subscribe registers fn for offline flips. The callback is invoked
// synchronously from the goroutine that observed the flip.
func (o *Oracle) Subscribe(fn func(domain.ConnectivityState)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// SetState injects a state observation, firing subscribers on an offline
// flip. Platform integrations (or tests) push OS-level signals through it.
func (o *Oracle) SetState(state domain.ConnectivityState) {
	o.setState(state)
}

func (o *Oracle) setState(state domain.ConnectivityState) {
	o.mu.Lock()
	prev := o.state
	prevKnown := o.known
	o.state = state
	o.known = true

	flipped := !prevKnown || prev.Offline() != state.Offline()
	var subs []func(domain.ConnectivityState)
	if flipped {
		subs = make([]func(domain.ConnectivityState), 0, len(o.subs))
		for _, fn := range o.subs {
			subs = append(subs, fn)
		}
	}
	o.mu.Unlock()

	if !flipped {
		return
	}
	o.logger.Info("connectivity changed",
		log.Bool("connected", state.Connected),
		log.Bool("reachable", state.Reachable),
	)
	for _, fn := range subs {
		fn(state)
	}
}

// Run probes on a fixed interval until ctx is done. Reachable edges are
// then observed even when no platform callback exists.
func (o *Oracle) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Probe(ctx)
		}
	}
}

// hasNetworkInterface reports whether any non-loopback interface is up.
func hasNetworkInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return true // cannot tell, assume connected
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}
