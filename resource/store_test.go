package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStore_AllocReadFree(t *testing.T) {
	s := NewBlobStore(0)

	src := []byte("jpeg bytes")
	h, err := s.Alloc(src)
	require.NoError(t, err)
	assert.True(t, h.IsBlob())

	src[0] = 'X'
	got, err := s.Read(h)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(got), "Alloc must copy")
	assert.Equal(t, int64(10), s.Bytes())
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Free(h))
	_, err = s.Read(h)
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, s.Free(h), ErrReleased)
	assert.Zero(t, s.Bytes())
}

func TestBlobStore_Limit(t *testing.T) {
	s := NewBlobStore(10)

	h, err := s.Alloc(make([]byte, 8))
	require.NoError(t, err)

	_, err = s.Alloc(make([]byte, 4))
	assert.ErrorIs(t, err, ErrArenaFull)

	require.NoError(t, s.Free(h))
	_, err = s.Alloc(make([]byte, 4))
	assert.NoError(t, err, "freeing must return budget")
}

func TestBlobStore_RejectsForeignHandles(t *testing.T) {
	s := NewBlobStore(0)
	_, err := s.Read("https://example.com/a.jpg")
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, s.Free("plain"), ErrUnknownHandle)
}

func TestValue_Tags(t *testing.T) {
	h := NewHandle()
	assert.True(t, HandleValue(h, "image/jpeg", 3).IsHandle())
	assert.False(t, URLValue("https://x/y.jpg").IsHandle())
	assert.False(t, Value{Kind: KindHandle, Handle: "nope"}.IsHandle())
	assert.Equal(t, "handle", KindHandle.String())
	assert.NotEqual(t, NewHandle(), NewHandle())
}
