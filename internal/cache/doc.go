// Package cache owns the named, versioned buckets that back the offline
// gateway. A Storage creates buckets lazily by name, enumerates them, and
// deletes whole buckets; a Bucket maps a request identity (method + full URL)
// to a stored response with last-write-wins semantics. Manager layers the
// lifecycle operations on top: best-effort manifest population and
// generation reclaim. Backends: file (default), memory, redis, sqlite.
// Every backend reports quota/permission/connection failures as
// ErrStorageUnavailable so callers can degrade to "cache is empty".
package cache
