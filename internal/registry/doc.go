// Package registry manages the live MCP client instances shared across
// all users of the backend process.
//
// # Overview
//
// The Registry is the single process-wide authority over which tool
// server connections are currently open. Clients are cached per
// (user, plugin name) key, bounded by a maximum count with
// least-recently-used eviction, and expired by a background reaper
// after a configurable idle TTL.
//
// # Locking
//
// Two locks coexist:
//
//   - One mutex per user, created lazily behind a guard lock. Load,
//     unload and reload for a user serialize through it, so a reload's
//     unload/load pair never interleaves with another mutation for the
//     same user. Different users never block each other beyond the
//     guard lock's map insert.
//   - A narrow bookkeeping mutex protecting the entry map and its LRU
//     order. Lookups touch entries under this lock only, so tool calls
//     run concurrently with unrelated loads.
//
// A tool call can race a concurrent unload of its own plugin; the
// losing side observes a NotLoadedError. Callers must treat that as a
// legitimate race, not a bug.
//
// # Lifetime
//
// Construct one Registry at startup with New and tear it down once with
// CleanupAll, which stops the reaper, unloads every entry and closes
// the shared connection pool. The registry is passed by handle to the
// API layer; there is no package-level instance.
package registry
