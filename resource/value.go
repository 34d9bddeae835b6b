package resource

import (
	"strings"

	"github.com/google/uuid"
)

// BlobPrefix marks handles minted by a BlobStore.
const BlobPrefix = "blob:"

// Handle references a buffer held by a BlobStore.
type Handle string

// NewHandle mints a fresh, unique blob handle.
func NewHandle() Handle { return Handle(BlobPrefix + uuid.NewString()) }

// IsBlob reports whether h was minted by a BlobStore. Only such handles
// need (and get) an explicit release.
func (h Handle) IsBlob() bool { return strings.HasPrefix(string(h), BlobPrefix) }

func (h Handle) String() string { return string(h) }

// Kind tags the payload of a Value.
type Kind uint8

const (
	// KindURL values are plain strings; nothing to release.
	KindURL Kind = iota + 1
	// KindHandle values own a blob that must be released on eviction.
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindHandle:
		return "handle"
	default:
		return "invalid"
	}
}

// Value is what the gallery caches: either a URL the renderer can use
// directly or a handle to materialized image bytes.
type Value struct {
	Kind   Kind
	URL    string
	Handle Handle
	MIME   string
	Size   int64
}

// URLValue wraps a plain URL.
func URLValue(url string) Value { return Value{Kind: KindURL, URL: url} }

// HandleValue wraps a blob handle of size bytes.
func HandleValue(h Handle, mime string, size int64) Value {
	return Value{Kind: KindHandle, Handle: h, MIME: mime, Size: size}
}

// IsHandle reports whether v owns a blob.
func (v Value) IsHandle() bool { return v.Kind == KindHandle && v.Handle.IsBlob() }

// SameValue is the cache.Options.Same for Value caches.
func SameValue(a, b Value) bool { return a == b }

// ValueCost weighs a Value by its blob size, for cache cost accounting.
func ValueCost(v Value) int64 { return v.Size }
