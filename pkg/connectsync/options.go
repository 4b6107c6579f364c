package connectsync

import (
	"net/http"

	"github.com/InvestigateHealth/connectsync/internal/ports"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// Logger is the interface for structured logging.
type Logger = log.Logger

// Clock is the time source used for TTL and dedup decisions.
type Clock = ports.Clock

// Storage is the durable key-value store backing the cache and queues.
type Storage = ports.Storage

// Connectivity is the reachability oracle consulted before remote calls.
type Connectivity = ports.Connectivity

// RemoteService is the remote document and file store.
type RemoteService = ports.RemoteService

// Option configures optional behavior of a Client.
type Option func(*options)

// options holds the optional configuration for a Client instance.
type options struct {
	httpClient   ports.HTTPClient
	logger       log.Logger
	clock        ports.Clock
	eventHandler EventHandler
	storage      ports.Storage
	connectivity ports.Connectivity
	remote       ports.RemoteService
}

// defaultOptions returns options with sensible defaults.
func defaultOptions(client *http.Client) options {
	return options{
		httpClient: client,
		logger:     log.NewNoopLogger(),
		clock:      ports.SystemClock{},
	}
}

// WithHTTPClient sets a custom HTTP client for API communication and
// reachability probes. If not provided, a default client with the
// configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets a custom time source. Intended for tests.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithEventHandler sets a handler for engine events.
// If not provided, no events are emitted.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithStorage replaces the configured storage backend with a custom
// implementation.
func WithStorage(storage Storage) Option {
	return func(o *options) {
		o.storage = storage
	}
}

// WithConnectivity replaces the HTTP-probe connectivity oracle, for
// platforms with a native reachability signal.
func WithConnectivity(conn Connectivity) Option {
	return func(o *options) {
		o.connectivity = conn
	}
}

// WithRemoteService replaces the HTTP remote adapter with a custom
// backend implementation.
func WithRemoteService(remote RemoteService) Option {
	return func(o *options) {
		o.remote = remote
	}
}
