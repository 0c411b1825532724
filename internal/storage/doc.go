// Package storage persists the two keyed stores the engine depends on:
//
//   - Outbox records (the source of truth for delivery state)
//   - Per-user notification preferences
//
// Backends: an in-memory map store (default, also used by tests) and a
// SQLite file store. Record bodies are stored as JSON so unknown optional
// fields default sensibly on read.
package storage
