// Package store provides persistent storage for the chat core using SQLite.
//
// # Architecture
//
// The store package exposes narrow interfaces so each consumer depends only on
// what it uses:
//
//   - MessageStore: create messages, page history, latest message per room
//   - UnreadTracker: atomic unread increments and resets
//   - MembershipStore: room member lists
//   - AgentStore: agent profiles and room attachments
//
// SQLiteStore implements all of them in a single struct.
//
// # Ordering
//
// Messages carry an auto-increment sequence next to their creation time.
// History is read newest-first ordered by (created_at, seq) and reversed
// before it is returned, so pages stay stable while writers insert
// concurrently.
//
// # Unread counters
//
// Counters are only changed by single UPDATE statements
// (unread_count = unread_count + 1, or = 0). There is no read-modify-write
// in Go code, so concurrent fan-out cannot lose updates.
//
// # SQLite Configuration
//
// File databases are opened with WAL, foreign keys and a busy timeout set on
// every pooled connection. ":memory:" is limited to one connection.
//
// # Testing
//
// Use NewMockStore() for unit tests; it also supports injected failures.
// Use NewSQLiteStore with a path under t.TempDir() for integration tests.
package store
