// Package storage persists the repost job table.
//
// The store is deliberately dumb: Load returns the whole table, Save replaces
// it. There is no partial update and no locking; callers serialize
// load -> mutate -> save themselves (see internal/reposter).
//
// Drivers:
//   - "file":   one JSON document, written via temp file + rename
//   - "sqlite": a single jobs table rewritten inside one transaction
package storage
