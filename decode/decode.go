// Package decode turns fetched bytes into blob handles: resized JPEG
// thumbnails, validated full-size originals and synthesized solid colours.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/IvanBrykalov/gallerycache/internal/logging"
	"github.com/IvanBrykalov/gallerycache/loader"
	"github.com/IvanBrykalov/gallerycache/resource"
)

const (
	DefaultThumbWidth  = 400
	DefaultJPEGQuality = 80
	// DefaultMaxPixels rejects images whose header claims more pixels than this.
	DefaultMaxPixels = 64 << 20
)

var (
	// ErrFormat is returned for bytes no registered image decoder accepts.
	ErrFormat = errors.New("decode: unknown image format")
	// ErrDimensions is returned for empty or oversized images.
	ErrDimensions = errors.New("decode: bad image dimensions")
	// ErrColor is returned by ParseHex.
	ErrColor = errors.New("decode: bad colour")
)

// Allocator stores bytes and returns a handle. *resource.BlobStore implements it.
type Allocator interface {
	Alloc(data []byte) (resource.Handle, error)
}

// Registrar records a new handle as live and pending until its owner
// settles it. *resource.Tracker implements it.
type Registrar interface {
	RegisterPending(h resource.Handle) bool
}

// Options configures a Decoder.
type Options struct {
	Store   Allocator
	Tracker Registrar
	// ThumbWidth is the target thumbnail width; height keeps the aspect ratio.
	ThumbWidth  int
	JPEGQuality int
	MaxPixels   int
	Logger      *slog.Logger
}

// Decoder implements loader.Decoder.
type Decoder struct {
	opt Options
	log *slog.Logger
}

// New returns a Decoder. Store and Tracker are required.
func New(opt Options) *Decoder {
	if opt.Store == nil || opt.Tracker == nil {
		panic("decode: Store and Tracker are required")
	}
	if opt.ThumbWidth <= 0 {
		opt.ThumbWidth = DefaultThumbWidth
	}
	if opt.JPEGQuality <= 0 || opt.JPEGQuality > 100 {
		opt.JPEGQuality = DefaultJPEGQuality
	}
	if opt.MaxPixels <= 0 {
		opt.MaxPixels = DefaultMaxPixels
	}
	return &Decoder{opt: opt, log: logging.OrDiscard(opt.Logger)}
}

// Decode dispatches on the request variant.
func (d *Decoder) Decode(ctx context.Context, req loader.Request, data []byte) (resource.Value, error) {
	if req.Variant == loader.VariantFull {
		return d.Full(ctx, data)
	}
	return d.Thumbnail(ctx, data)
}

// Thumbnail decodes data, scales it down to ThumbWidth and stores it as JPEG.
// Images already narrower than ThumbWidth are re-encoded at their own size.
func (d *Decoder) Thumbnail(ctx context.Context, data []byte) (resource.Value, error) {
	if _, err := d.config(data); err != nil {
		return resource.Value{}, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return resource.Value{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := ctx.Err(); err != nil {
		return resource.Value{}, err
	}

	sb := src.Bounds()
	size := sb.Size()
	if size.X > d.opt.ThumbWidth {
		size = image.Pt(d.opt.ThumbWidth, max(1, sb.Dy()*d.opt.ThumbWidth/sb.Dx()))
	}
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: d.opt.JPEGQuality}); err != nil {
		return resource.Value{}, fmt.Errorf("decode: encode thumbnail: %w", err)
	}
	return d.store(buf.Bytes(), "image/jpeg")
}

// Full validates data as an image and stores it unchanged.
func (d *Decoder) Full(_ context.Context, data []byte) (resource.Value, error) {
	format, err := d.config(data)
	if err != nil {
		return resource.Value{}, err
	}
	return d.store(data, "image/"+format)
}

// SolidColor synthesizes a w×h PNG filled with c.
func (d *Decoder) SolidColor(c color.Color, w, h int) (resource.Value, error) {
	if w <= 0 || h <= 0 || w*h > d.opt.MaxPixels {
		return resource.Value{}, fmt.Errorf("%w: %dx%d", ErrDimensions, w, h)
	}
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{c})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return resource.Value{}, fmt.Errorf("decode: encode colour: %w", err)
	}
	return d.store(buf.Bytes(), "image/png")
}

func (d *Decoder) config(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > d.opt.MaxPixels {
		return "", fmt.Errorf("%w: %dx%d", ErrDimensions, cfg.Width, cfg.Height)
	}
	return format, nil
}

func (d *Decoder) store(data []byte, mimeType string) (resource.Value, error) {
	h, err := d.opt.Store.Alloc(data)
	if err != nil {
		return resource.Value{}, fmt.Errorf("decode: %w", err)
	}
	d.opt.Tracker.RegisterPending(h)
	d.log.Debug("stored blob", "handle", h.String(), "mime", mimeType, "bytes", len(data))
	return resource.HandleValue(h, mimeType, int64(len(data))), nil
}

// ParseHex parses "#rgb", "#rrggbb" or "#rrggbbaa" (the leading # is optional).
func ParseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("%w %q", ErrColor, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w %q: %w", ErrColor, s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
