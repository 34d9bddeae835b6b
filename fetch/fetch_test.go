package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchOK(t *testing.T) {
	var ua, custom string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		ua, custom = r.Header.Get("User-Agent"), r.Header.Get("Referer")
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write([]byte("jpegbytes"))
	})

	c := New(Options{Headers: map[string]string{"Referer": "https://gallery.local/"}})
	body, err := c.Fetch(context.Background(), " "+srv.URL+"/a.jpg ")
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(body))
	assert.Contains(t, ua, "Mozilla")
	assert.Equal(t, "https://gallery.local/", custom)
}

func TestFetchStatus(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	_, err := New(Options{}).Fetch(context.Background(), srv.URL)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestFetchMIME(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>"))
	})
	_, err := New(Options{}).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrMIME)
}

func TestFetchTooLarge(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if r.URL.Query().Get("chunked") != "" {
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	c := New(Options{MaxBytes: 16})

	_, err := c.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = c.Fetch(context.Background(), srv.URL+"?chunked=1")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetchBadURL(t *testing.T) {
	_, err := New(Options{}).Fetch(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestFetchHonoursContext(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Options{}).Fetch(ctx, srv.URL)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("gif"))
	})
	c := New(Options{RatePerSec: 1, Burst: 1})

	_, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(ctx, srv.URL)
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
