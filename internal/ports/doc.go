// Package ports defines the interfaces that connect the application layer
// to infrastructure adapters.
//
// The application core (internal/app, internal/cache, internal/queue)
// depends only on these interfaces. Adapters under internal/adapters
// implement them with concrete infrastructure: file system, SQLite, HTTP,
// network probing.
//
//   - [RemoteService]: the remote document/file store
//   - [Connectivity]: reachability observation and probing
//   - [Storage]: durable byte-oriented key/value store
//   - [Clock]: time source, swappable for deterministic tests
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// This separation keeps the reconcilers, cache store, and queue testable
// with fake collaborators and keeps the dependency direction pointing
// inward.
package ports
