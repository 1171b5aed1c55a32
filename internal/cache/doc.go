// Package cache defines the named-cache store the offline shell is built on.
// A Store holds independently addressable caches (content, temp and the
// manifest record); each Cache maps a request URL to a stored Response.
// Whole caches are opened on demand and deleted in one step, which is what
// the lifecycle controller relies on for cold starts and fail-safe teardown.
// Backends: go-billy filesystems (disk via osfs, memory via memfs) and redis.
package cache
