// Package connectsync provides an offline-first client for a remote
// document store.
//
// Reads are served from a durable TTL cache where possible. Mutations
// execute immediately when the service is reachable and queue durably
// when it is not; a background reconciler replays queued work in order
// once connectivity returns, with exponential backoff and a dead-letter
// list for operations that cannot succeed.
//
// # Basic Usage
//
//	cfg := connectsync.Config{
//	    DataDir:    "/var/lib/myapp/sync",
//	    ServiceURL: "https://api.example.com",
//	    ActorID:    "user-42",
//	}
//
//	client, err := connectsync.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Reads and writes work immediately, online or offline.
//	res, err := client.Create(ctx, "posts", json.RawMessage(`{"title":"hi"}`))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !res.Confirmed {
//	    // Queued; will sync in the background.
//	}
//
//	// ... run until shutdown signal ...
//
//	if err := client.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// # Configuration
//
// Create a [Config] with at minimum DataDir and ServiceURL. All other
// fields have sensible defaults set via [Config.SetDefaults].
//
// # Event Handling
//
// To observe drain outcomes and connectivity flips, implement
// [EventHandler] and pass it via [WithEventHandler]. Events are called
// synchronously from the reconciler goroutine; implementations should
// return quickly.
//
// # Dependency Injection
//
// For testing, inject custom implementations of external dependencies:
//
//	client, err := connectsync.New(cfg,
//	    connectsync.WithRemoteService(fakeRemote),
//	    connectsync.WithConnectivity(fakeConn),
//	    connectsync.WithStorage(memStore),
//	)
package connectsync
