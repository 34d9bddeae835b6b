// Package resource owns the lifetime of externally-allocated image buffers.
//
// Decode output lives in a BlobStore and is addressed by an opaque Handle.
// A Tracker records every handle that has been handed out and frees each
// one at most once, either when the cache entry holding it is evicted or
// at teardown. Cached values are a tagged Value so eviction callbacks can
// tell handles from plain URLs without probing.
package resource
