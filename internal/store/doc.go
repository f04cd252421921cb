// Package store provides SQLite-backed durable storage for nfefetch.
//
// The database holds two kinds of data:
//   - Settings: integer key→value pairs (recorded step positions, speed)
//   - Run history: one row per replay run plus one row per processed key
//
// # Critical Patterns
//
// Settings writes are transactional. SetMany applies every entry or none,
// which is what makes a capture commit all-or-nothing.
//
// Outcomes are write-once. UNIQUE(run_id, idx) with ON CONFLICT DO NOTHING
// means a key's outcome is recorded exactly once per run even if the
// caller retries the write.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
