// Package reposter owns the repost job lifecycle.
//
// A job is published once when it is created and then re-published at a
// randomized time on each of the following days. Jobs move from active to
// either stopped (operator action) or expired (schedule consumed). Nothing
// ever moves them back.
//
// All operations follow the same pattern against storage.Store: load the whole
// table, mutate it, save it back. Engine serializes these sections with one
// mutex, so callers may invoke it from any goroutine.
package reposter
