// Package fetch downloads image bytes over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/IvanBrykalov/gallerycache/internal/logging"
)

const (
	// DefaultMaxBytes caps a single download at 10MB.
	DefaultMaxBytes = 10 << 20
	// DefaultTimeout bounds the HTTP exchange when the caller's ctx has no deadline.
	DefaultTimeout = 10 * time.Second
)

var (
	// ErrMIME is returned for responses whose Content-Type is not an image type we accept.
	ErrMIME = errors.New("fetch: content type not allowed")
	// ErrTooLarge is returned when the body exceeds MaxBytes.
	ErrTooLarge = errors.New("fetch: body too large")
)

// StatusError is a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// DefaultMIMETypes is the Content-Type allow-list used when Options.MIMETypes is nil.
var DefaultMIMETypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"binary/octet-stream",
	"application/octet-stream",
}

// Sites tend to reject bare Go clients, so requests carry browser headers.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Accept":          "image/avif,image/webp,image/png,image/jpeg,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
	"Sec-Fetch-Dest":  "image",
	"Sec-Fetch-Mode":  "no-cors",
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	MaxBytes   int64
	MIMETypes  []string
	// Headers are added to (and override) the browser defaults.
	Headers map[string]string
	// RatePerSec > 0 limits request starts; Burst defaults to 1.
	RatePerSec float64
	Burst      int
	Logger     *slog.Logger
}

// Client implements loader.Fetcher.
type Client struct {
	hc      *http.Client
	opt     Options
	limiter *rate.Limiter
	headers map[string]string
	log     *slog.Logger
}

// New returns a Client.
func New(opt Options) *Client {
	if opt.HTTPClient == nil {
		opt.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.MIMETypes == nil {
		opt.MIMETypes = DefaultMIMETypes
	}
	c := &Client{
		hc:      opt.HTTPClient,
		opt:     opt,
		headers: make(map[string]string, len(browserHeaders)+len(opt.Headers)),
		log:     logging.OrDiscard(opt.Logger),
	}
	for k, v := range browserHeaders {
		c.headers[k] = v
	}
	for k, v := range opt.Headers {
		c.headers[k] = v
	}
	if opt.RatePerSec > 0 {
		burst := opt.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opt.RatePerSec), burst)
	}
	return c
}

// Fetch GETs location and returns its body.
func (c *Client) Fetch(ctx context.Context, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	if _, err := url.ParseRequestURI(location); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch: rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: location, Code: resp.StatusCode}
	}
	if ct := resp.Header.Get("Content-Type"); !c.allowed(ct) {
		return nil, fmt.Errorf("%w: %q", ErrMIME, ct)
	}
	if resp.ContentLength > c.opt.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opt.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(body)) > c.opt.MaxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, c.opt.MaxBytes)
	}

	c.log.Debug("fetched", "url", location, "bytes", len(body), "took", time.Since(start))
	return body, nil
}

func (c *Client) allowed(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return slices.Contains(c.opt.MIMETypes, mt)
}
