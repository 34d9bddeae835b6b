package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/gallerycache/decode"
	"github.com/IvanBrykalov/gallerycache/fetch"
	"github.com/IvanBrykalov/gallerycache/gallery"
	"github.com/IvanBrykalov/gallerycache/loader"
	"github.com/IvanBrykalov/gallerycache/pressure"
	"github.com/IvanBrykalov/gallerycache/resource"
)

type server struct {
	g   *gallery.Gallery
	log *slog.Logger
}

func newRouter(g *gallery.Gallery, gatherer prometheus.Gatherer, log *slog.Logger) http.Handler {
	s := &server{g: g, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CleanPath)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/image", s.image)
	r.Get("/color/{hex}", s.color)
	r.Get("/stats", s.stats)
	r.Post("/cleanup", s.cleanup)
	r.Post("/cancel", s.cancel)
	r.Post("/visibility", s.visibility)
	r.Post("/pressure", s.pressure)
	return r
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *server) image(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	url := q.Get("url")
	if url == "" {
		httpError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	tier, err := loader.ParseTier(q.Get("tier"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	opt := gallery.RequestOptions{Fallback: q.Get("fallback"), Tier: tier}
	if q.Get("variant") == "full" {
		opt.Variant = loader.VariantFull
	}

	v, err := s.g.RequestImage(r.Context(), url, opt)
	if err != nil {
		httpError(w, statusOf(err), err)
		return
	}
	s.writeBlob(w, v)
}

func (s *server) color(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.URL.Query().Get("w"))
	height, _ := strconv.Atoi(r.URL.Query().Get("h"))
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}
	v, err := s.g.SolidColor(chi.URLParam(r, "hex"), width, height)
	if err != nil {
		httpError(w, statusOf(err), err)
		return
	}
	s.writeBlob(w, v)
}

func (s *server) writeBlob(w http.ResponseWriter, v resource.Value) {
	data, err := s.g.Read(v)
	if err != nil {
		// Evicted between lookup and read; the client may simply retry.
		httpError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Content-Type", v.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Gallery-Handle", v.Handle.String())
	_, _ = w.Write(data)
}

func (s *server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.g.Stats())
}

type reportBody struct {
	Level    string         `json:"level"`
	Previous string         `json:"previous"`
	Actions  []string       `json:"actions"`
	Evicted  map[string]int `json:"evicted"`
	Released int            `json:"released"`
}

func toBody(rep pressure.Report) reportBody {
	b := reportBody{
		Level:    rep.Level.String(),
		Previous: rep.Previous.String(),
		Actions:  make([]string, 0, len(rep.Actions)),
		Evicted:  rep.Evicted,
		Released: rep.Released,
	}
	for _, a := range rep.Actions {
		b.Actions = append(b.Actions, string(a))
	}
	return b
}

func (s *server) cleanup(w http.ResponseWriter, r *http.Request) {
	aggressive, _ := strconv.ParseBool(r.URL.Query().Get("aggressive"))
	writeJSON(w, http.StatusOK, toBody(s.g.ForceCleanup(aggressive)))
}

func (s *server) cancel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": s.g.CancelAllPending()})
}

func (s *server) visibility(w http.ResponseWriter, r *http.Request) {
	visible, err := strconv.ParseBool(r.URL.Query().Get("visible"))
	if err != nil {
		httpError(w, http.StatusBadRequest, errors.New("visible must be true or false"))
		return
	}
	s.g.SetVisible(visible)
	w.WriteHeader(http.StatusNoContent)
}

// pressure applies a sample supplied by the host, e.g. from a cgroup
// notifier, instead of waiting for the next tick.
func (s *server) pressure(w http.ResponseWriter, r *http.Request) {
	used, err := strconv.ParseInt(r.URL.Query().Get("used"), 10, 64)
	if err != nil || used < 0 {
		httpError(w, http.StatusBadRequest, errors.New("used must be a byte count"))
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	rep := s.g.ApplySample(pressure.Sample{UsedBytes: used, LimitBytes: limit, At: time.Now()})
	writeJSON(w, http.StatusOK, toBody(rep))
}

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response was ready.
const statusClientClosedRequest = 499

func statusOf(err error) int {
	var se *fetch.StatusError
	switch {
	case errors.Is(err, gallery.ErrClosed), errors.Is(err, loader.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, loader.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, loader.ErrCancelled):
		return http.StatusConflict
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		return http.StatusNotFound
	case errors.Is(err, loader.ErrFetch), errors.Is(err, loader.ErrDecode):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, decode.ErrColor), errors.Is(err, decode.ErrDimensions):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
