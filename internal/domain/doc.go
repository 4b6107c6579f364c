// Package domain holds the core data model of the connectsync engine:
// cache entries, queued operations, pending uploads, connectivity state,
// and the error taxonomy shared by the public API and the reconcilers.
//
// The package has no dependencies on adapters or the application layer.
// Everything here is plain data that survives JSON round-trips, which is
// what makes the operation queue durable across process restarts.
package domain
