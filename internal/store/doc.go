// Package store provides SQLite-backed storage for resolved model graphs.
//
// The backing schema is derived from the graph, one table per model:
//   - scalar fields map to INTEGER, REAL and TEXT columns
//   - references become foreign-key columns with their on-delete policy
//   - unique fields become UNIQUE constraints, surfaced to callers as
//     constraint violations they can map to validation failures
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// All mutating work runs inside a Tx so an action either commits every
// write it made or none of them.
package store
