// Package store provides a SQLite-backed time-series store for gateways that
// keep their measurements on local disk instead of (or before) a hosted API.
//
// It implements tsdb.Store: measurements are written append-only, keyed by
// (site_id, observed_at, seq), and the newest key per site is the catch-up
// anchor.
//
// # Critical Patterns
//
// Idempotent writes
//   - PRIMARY KEY(site_id, observed_at, seq) with ON CONFLICT DO NOTHING
//   - Replaying a catch-up source twice never duplicates rows
//
// Time as integers
//   - observed_at is Unix microseconds, matching device resolution
//   - Ordering never depends on string formatting or zone names
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// These are set through the driver DSN so every pooled connection has them.
package store
