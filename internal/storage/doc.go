// Package storage persists web push subscriptions.
//
// Two drivers are available:
//   - "sqlite": a SQLite database (pure Go driver, WAL mode)
//   - "file":   a single JSON snapshot rewritten atomically on every change
//
// The registry is keyed by push endpoint; re-subscribing the same endpoint
// refreshes its keys instead of creating a duplicate.
package storage
