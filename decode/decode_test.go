package decode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/gallerycache/loader"
	"github.com/IvanBrykalov/gallerycache/resource"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newDecoder(t *testing.T, opt Options) (*Decoder, *resource.BlobStore, *resource.Tracker) {
	t.Helper()
	store := resource.NewBlobStore(0)
	tr := resource.NewTracker(store, nil)
	opt.Store, opt.Tracker = store, tr
	return New(opt), store, tr
}

func TestThumbnailScalesDown(t *testing.T) {
	d, store, tr := newDecoder(t, Options{ThumbWidth: 100})
	v, err := d.Thumbnail(context.Background(), pngOf(t, 400, 200))
	require.NoError(t, err)

	assert.True(t, v.IsHandle())
	assert.Equal(t, "image/jpeg", v.MIME)
	assert.True(t, tr.Contains(v.Handle))

	data, err := store.Read(v.Handle)
	require.NoError(t, err)
	assert.Equal(t, v.Size, int64(len(data)))
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	d, store, _ := newDecoder(t, Options{ThumbWidth: 100})
	v, err := d.Thumbnail(context.Background(), pngOf(t, 40, 30))
	require.NoError(t, err)
	data, _ := store.Read(v.Handle)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 30), image.Pt(cfg.Width, cfg.Height))
}

func TestFullStoresOriginal(t *testing.T) {
	d, store, _ := newDecoder(t, Options{})
	src := pngOf(t, 10, 10)
	v, err := d.Decode(context.Background(), loader.Request{Variant: loader.VariantFull}, src)
	require.NoError(t, err)
	assert.Equal(t, "image/png", v.MIME)
	got, _ := store.Read(v.Handle)
	assert.Equal(t, src, got)
}

func TestRejectsGarbage(t *testing.T) {
	d, store, tr := newDecoder(t, Options{})
	_, err := d.Decode(context.Background(), loader.Request{}, []byte("<html>not an image</html>"))
	assert.ErrorIs(t, err, ErrFormat)
	_, err = d.Full(context.Background(), nil)
	assert.ErrorIs(t, err, ErrFormat)
	assert.Zero(t, store.Len())
	assert.Zero(t, tr.Live())
}

func TestRejectsHugeImages(t *testing.T) {
	d, _, _ := newDecoder(t, Options{MaxPixels: 50})
	_, err := d.Full(context.Background(), pngOf(t, 10, 10))
	assert.ErrorIs(t, err, ErrDimensions)
}

func TestArenaFull(t *testing.T) {
	store := resource.NewBlobStore(8)
	d := New(Options{Store: store, Tracker: resource.NewTracker(store, nil)})
	_, err := d.Full(context.Background(), pngOf(t, 10, 10))
	assert.ErrorIs(t, err, resource.ErrArenaFull)
}

func TestSolidColor(t *testing.T) {
	d, store, _ := newDecoder(t, Options{})
	c, err := ParseHex("#1e90ff")
	require.NoError(t, err)
	v, err := d.SolidColor(c, 8, 4)
	require.NoError(t, err)

	data, _ := store.Read(v.Handle)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())
	r, g, b, _ := img.At(7, 3).RGBA()
	assert.Equal(t, []uint32{0x1e, 0x90, 0xff}, []uint32{r >> 8, g >> 8, b >> 8})

	_, err = d.SolidColor(c, 0, 4)
	assert.ErrorIs(t, err, ErrDimensions)
}

func TestParseHex(t *testing.T) {
	cases := map[string]color.NRGBA{
		"fff":       {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		"#000000":   {A: 0xff},
		"#11223344": {R: 0x11, G: 0x22, B: 0x33, A: 0x44},
	}
	for in, want := range cases {
		got, err := ParseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "#12", "zzzzzz"} {
		_, err := ParseHex(bad)
		assert.ErrorIs(t, err, ErrColor, bad)
	}
}

func TestNewPanicsWithoutStore(t *testing.T) {
	assert.Panics(t, func() { New(Options{}) })
}
