package resource

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// BlobStore is an in-memory arena for decoded and resized image bytes.
// Every Alloc must be balanced by a Free; the Tracker does that.
// Safe for concurrent use.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[Handle][]byte
	bytes int64

	limit    int64
	limitSem *semaphore.Weighted // nil if unlimited
}

// NewBlobStore returns a store. limitBytes > 0 caps the total size of live
// blobs; Alloc fails with ErrArenaFull instead of blocking.
func NewBlobStore(limitBytes int64) *BlobStore {
	s := &BlobStore{blobs: make(map[Handle][]byte)}
	if limitBytes > 0 {
		s.limit = limitBytes
		s.limitSem = semaphore.NewWeighted(limitBytes)
	}
	return s
}

// Alloc copies data into the arena and returns its handle.
func (s *BlobStore) Alloc(data []byte) (Handle, error) {
	n := int64(len(data))
	if s.limitSem != nil && !s.limitSem.TryAcquire(n) {
		return "", ErrArenaFull
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	h := NewHandle()

	s.mu.Lock()
	s.blobs[h] = buf
	s.bytes += n
	s.mu.Unlock()
	return h, nil
}

// Read returns the bytes behind h. The slice must not be modified.
func (s *BlobStore) Read(h Handle) ([]byte, error) {
	if !h.IsBlob() {
		return nil, ErrUnknownHandle
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[h]
	if !ok {
		return nil, ErrReleased
	}
	return b, nil
}

// Free drops the blob behind h.
func (s *BlobStore) Free(h Handle) error {
	if !h.IsBlob() {
		return ErrUnknownHandle
	}
	s.mu.Lock()
	b, ok := s.blobs[h]
	if ok {
		delete(s.blobs, h)
		s.bytes -= int64(len(b))
	}
	s.mu.Unlock()

	if !ok {
		return ErrReleased
	}
	if s.limitSem != nil {
		s.limitSem.Release(int64(len(b)))
	}
	return nil
}

// Len is the number of live blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Bytes is the total size of live blobs.
func (s *BlobStore) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// Limit is the configured byte cap (0 if unlimited).
func (s *BlobStore) Limit() int64 { return s.limit }
