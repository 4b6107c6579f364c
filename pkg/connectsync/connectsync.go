package connectsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	httpadapter "github.com/InvestigateHealth/connectsync/internal/adapters/http"
	"github.com/InvestigateHealth/connectsync/internal/adapters/kv"
	"github.com/InvestigateHealth/connectsync/internal/adapters/netcheck"
	"github.com/InvestigateHealth/connectsync/internal/adapters/sqlite"
	"github.com/InvestigateHealth/connectsync/internal/app"
	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/internal/ports"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// Errors returned by the client. ErrUnavailableOffline is the one callers
// handle most often: a read that cannot be served locally while offline.
var (
	ErrAlreadyRunning     = domain.ErrAlreadyRunning
	ErrNotRunning         = domain.ErrNotRunning
	ErrShutdownTimeout    = domain.ErrShutdownTimeout
	ErrInvalidConfig      = domain.ErrInvalidConfig
	ErrUnavailableOffline = domain.ErrUnavailableOffline
)

// State is the client's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	return app.State(s).String()
}

func convertState(s app.State) State { return State(s) }

// OpKind identifies a mutation type in a batch write.
type OpKind = domain.OpKind

const (
	OpCreate = domain.OpCreate
	OpUpdate = domain.OpUpdate
	OpDelete = domain.OpDelete
)

// BatchOp is one mutation in a batch write.
type BatchOp = domain.BatchOp

// CompletionTarget names the document field to set to an upload's URL
// once the upload is confirmed.
type CompletionTarget = domain.CompletionTarget

// DeadOperation is an operation that exhausted its retries or hit a
// terminal error.
type DeadOperation = domain.DeadOperation

// DeadUpload is an upload that exhausted its retries or hit a terminal
// error.
type DeadUpload = domain.DeadUpload

// Result reports the outcome of a mutation. Confirmed means the remote
// service accepted it; otherwise it is queued for background sync.
type Result struct {
	ID        string
	Confirmed bool
	Value     json.RawMessage
}

func convertResult(r app.Result) Result {
	return Result{ID: r.ID, Confirmed: r.Confirmed(), Value: r.Value}
}

// Client is an offline-first client for a remote document store. Reads
// are served from a durable TTL cache where possible; mutations execute
// immediately when online and queue for background reconciliation when
// offline. Use New() to create an instance, then Start() to begin
// background syncing.
type Client struct {
	config  Config
	opts    options
	engine  *app.Engine
	conn    ports.Connectivity
	storage ports.Storage
	emitter *eventEmitterWrapper
	logger  log.Logger

	lifecycle   *app.Lifecycle
	unsubscribe func()

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Client with the given configuration. The instance is
// created in StateStopped; operations work immediately, but queued work
// is only reconciled after Start().
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	o := defaultOptions(httpClient)
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	emitter := &eventEmitterWrapper{handler: o.eventHandler}

	storage := o.storage
	if storage == nil {
		switch cfg.Backend {
		case BackendSQLite:
			s, err := sqlite.Open(filepath.Join(cfg.DataDir, "connectsync.db"))
			if err != nil {
				return nil, err
			}
			storage = s
		default:
			storage = kv.NewFileStorage(cfg.DataDir)
		}
	}

	conn := o.connectivity
	if conn == nil {
		conn = netcheck.NewOracle(cfg.ProbeURL, o.httpClient, logger)
	}

	remote := o.remote
	if remote == nil {
		remote = httpadapter.NewRemoteService(o.httpClient, httpadapter.Metadata{
			BaseURL:  cfg.ServiceURL,
			AuthKey:  cfg.AuthKey,
			ClientID: cfg.ClientID,
		}, logger)
	}

	engineCfg := app.Config{
		ActorID:     cfg.ActorID,
		DefaultTTL:  cfg.DefaultTTL,
		DedupWindow: cfg.DedupWindow,
		BatchLimit:  cfg.BatchLimit,
		Tuning: app.Tuning{
			MaxRetries:  cfg.MaxRetries,
			BackoffBase: cfg.BackoffBase,
			BackoffMax:  cfg.BackoffMax,
			YieldEvery:  cfg.YieldEvery,
		},
	}
	engine, err := app.NewEngine(context.Background(), engineCfg, remote, conn, storage, o.clock, logger, emitter)
	if err != nil {
		return nil, err
	}

	return &Client{
		config:    cfg,
		opts:      o,
		engine:    engine,
		conn:      conn,
		storage:   storage,
		emitter:   emitter,
		logger:    logger,
		lifecycle: app.NewLifecycle(logger),
	}, nil
}

// Start begins background reconciliation: an initial catch-up drain, a
// drain on every offline-to-online flip, and periodic reachability
// probes. Returns immediately after starting the background goroutine.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.ctx = runCtx
	c.cancel = cancel
	c.lifecycle.SetCancel(cancel)

	// Edge-triggered: each genuine flip to online schedules one drain.
	c.unsubscribe = c.conn.Subscribe(func(state domain.ConnectivityState) {
		c.emitter.OnConnectivityChange(state)
		if state.Offline() {
			return
		}
		c.lifecycle.AddWorker()
		go func() {
			defer c.lifecycle.WorkerDone()
			c.engine.Drain(runCtx)
		}()
	})

	c.lifecycle.AddWorker()
	go func() {
		defer c.lifecycle.WorkerDone()

		if err := c.lifecycle.TransitionTo(app.StateRunning, "engine started"); err != nil {
			c.logger.Error("failed to transition to running", log.Err(err))
			return
		}

		// Catch up on work queued in prior runs.
		if !c.conn.Probe(runCtx).Offline() {
			c.engine.Drain(runCtx)
		}

		ticker := time.NewTicker(c.config.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				state := c.conn.Probe(runCtx)
				// The flip subscription covers offline-to-online edges;
				// this picks up work stranded by a failed drain while the
				// connection stayed up.
				if !state.Offline() && c.engine.PendingOps()+c.engine.PendingUploads() > 0 {
					c.engine.Drain(runCtx)
				}
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down background reconciliation. In-flight drain
// work is interrupted; queued operations stay durable and are replayed
// on the next Start. Waits up to 30 seconds before forcing shutdown.
func (c *Client) Stop() error {
	c.mu.Lock()

	if !c.lifecycle.CanStop() {
		c.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		c.mu.Unlock()
		return err
	}

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	err := c.lifecycle.WaitWithTimeout(app.ShutdownTimeout)
	if err != nil {
		_ = c.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = c.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}

	if closer, ok := c.storage.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			c.logger.Error("closing storage", log.Err(cerr))
		}
	}
	return err
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (c *Client) Status() State {
	return convertState(c.lifecycle.State())
}

// Offline reports the client's current view of connectivity.
func (c *Client) Offline() bool { return c.engine.Offline() }

// Get reads a record, from the cache when fresh, otherwise from the
// remote service. With allowStale, an expired cached value is served
// rather than failing while offline or when the remote read errors; the
// second return reports staleness.
func (c *Client) Get(ctx context.Context, collection, id string, allowStale bool) (json.RawMessage, bool, error) {
	return c.engine.GetDocument(ctx, collection, id, allowStale)
}

// Create stores a new record. Offline, a client-generated ID is returned
// and the create is queued; the ID is rebound to the server-assigned one
// during reconciliation.
func (c *Client) Create(ctx context.Context, collection string, data json.RawMessage) (Result, error) {
	r, err := c.engine.CreateDocument(ctx, collection, data)
	return convertResult(r), err
}

// Update applies a partial update to a record.
func (c *Client) Update(ctx context.Context, collection, id string, partial json.RawMessage) (Result, error) {
	r, err := c.engine.UpdateDocument(ctx, collection, id, partial)
	return convertResult(r), err
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, collection, id string) (Result, error) {
	r, err := c.engine.DeleteDocument(ctx, collection, id)
	return convertResult(r), err
}

// IncrementCounter adds delta to a numeric field of a record.
func (c *Client) IncrementCounter(ctx context.Context, collection, id, field string, delta int64) (Result, error) {
	r, err := c.engine.IncrementCounter(ctx, collection, id, field, delta)
	return convertResult(r), err
}

// AuditLog records an audit event for the current actor. Duplicate
// events for the same target within the dedup window collapse into one.
func (c *Client) AuditLog(ctx context.Context, action, targetID string, details map[string]string) (Result, error) {
	r, err := c.engine.AuditLog(ctx, action, targetID, details)
	return convertResult(r), err
}

// ShareRecord shares a record with another user.
func (c *Client) ShareRecord(ctx context.Context, collection, id, recipient string) (Result, error) {
	r, err := c.engine.ShareRecord(ctx, collection, id, recipient)
	return convertResult(r), err
}

// UploadFile transfers a local file to remote storage. A non-nil
// completion sets the named document field to the file's URL once the
// upload is confirmed.
func (c *Client) UploadFile(ctx context.Context, localPath, storagePath string, metadata map[string]string, completion *CompletionTarget) (Result, error) {
	r, err := c.engine.UploadFile(ctx, localPath, storagePath, metadata, completion)
	return convertResult(r), err
}

// DeleteFile removes a previously uploaded file. It requires connectivity
// and returns ErrUnavailableOffline otherwise.
func (c *Client) DeleteFile(ctx context.Context, ref string) error {
	return c.engine.DeleteFile(ctx, ref)
}

// BatchWrite commits document mutations together, chunked to the
// configured batch limit.
func (c *Client) BatchWrite(ctx context.Context, ops []BatchOp) (Result, error) {
	r, err := c.engine.BatchWrite(ctx, ops)
	return convertResult(r), err
}

// Drain runs one reconciliation pass immediately. Most callers rely on
// the background triggers instead; this is for tests and for apps that
// want a sync-now button.
func (c *Client) Drain(ctx context.Context) {
	c.engine.Drain(ctx)
}

// PendingOps returns the number of queued operations.
func (c *Client) PendingOps() int { return c.engine.PendingOps() }

// PendingUploads returns the number of queued uploads.
func (c *Client) PendingUploads() int { return c.engine.PendingUploads() }

// DeadOperations returns operations that were given up on.
func (c *Client) DeadOperations() []DeadOperation { return c.engine.DeadOps() }

// DeadUploads returns uploads that were given up on.
func (c *Client) DeadUploads() []DeadUpload { return c.engine.DeadUploads() }

// RequeueDead moves a dead operation back to the live queue for another
// attempt.
func (c *Client) RequeueDead(ctx context.Context, id string) error {
	return c.engine.RequeueDeadOp(ctx, id)
}

// UpdateTuning adjusts the retry parameters of a running client.
func (c *Client) UpdateTuning(maxRetries int, backoffBase, backoffMax time.Duration, yieldEvery int) {
	c.engine.UpdateTuning(app.Tuning{
		MaxRetries:  maxRetries,
		BackoffBase: backoffBase,
		BackoffMax:  backoffMax,
		YieldEvery:  yieldEvery,
	})
}

// IsUnavailableOffline reports whether err is the offline-miss error.
func IsUnavailableOffline(err error) bool {
	return errors.Is(err, domain.ErrUnavailableOffline)
}
