// Package serve provides an HTTP endpoint that renders the set on demand.
// Rendered images are cached by params digest, so the same view is computed
// once no matter how many workers produced it.
package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zjrosen/mandelgather/internal/cachemanager"
	"github.com/zjrosen/mandelgather/internal/emitter"
	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/log"
)

// MaxWorkers bounds the worker count a single request may ask for.
const MaxWorkers = 1024

// Renderer computes a complete grid for p using workers ranks.
type Renderer interface {
	Render(ctx context.Context, p fractal.Params, workers int) (*gather.Grid, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, p fractal.Params, workers int) (*gather.Grid, error)

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, p fractal.Params, workers int) (*gather.Grid, error) {
	return f(ctx, p, workers)
}

// Defaults fill in whatever a request leaves out. They are replaced as a
// whole when the config file changes.
type Defaults struct {
	Params    fractal.Params
	Workers   int
	Palette   string
	Format    emitter.Format
	MaxPixels int // 0 means unlimited
	CacheTTL  time.Duration
}

// Image is a rendered, encoded response body.
type Image struct {
	Body        []byte
	ContentType string
	// Checksum is the grid checksum. Palette and format change the body but
	// not the grid, so the ETag folds them in.
	Checksum string
	Variant  string
}

// ETag is the strong validator for the encoded body.
func (i Image) ETag() string {
	if i.Variant == "" {
		return `"` + i.Checksum + `"`
	}
	return `"` + i.Checksum + "-" + i.Variant + `"`
}

// etagMatch reports whether an If-None-Match header names etag.
func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// Stats is the cache state reported by /stats.
type Stats interface {
	Stats() cachemanager.Stats
}

// Handler provides the HTTP endpoints.
type Handler struct {
	renderer Renderer
	defaults atomic.Pointer[Defaults]
	images   *cachemanager.ReadThroughCache[string, Image, renderRequest]
	stats    Stats
}

// HandlerConfig configures the handler.
type HandlerConfig struct {
	// Renderer computes grids (required).
	Renderer Renderer
	Defaults Defaults
	// Cache stores encoded images. If nil, every request renders.
	Cache cachemanager.CacheManager[string, Image]
}

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// StatsResponse is the response body for /stats.
type StatsResponse struct {
	Cached bool   `json:"cached"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Items  int    `json:"items"`
}

type renderRequest struct {
	params  fractal.Params
	workers int
	palette string
	opts    emitter.Options
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{renderer: cfg.Renderer}
	h.SetDefaults(cfg.Defaults)

	if s, ok := cfg.Cache.(Stats); ok {
		h.stats = s
	}
	h.images = cachemanager.NewReadThroughCache[string, Image, renderRequest](cfg.Cache, h.render, cfg.Cache == nil)
	return h
}

// SetDefaults swaps the request defaults. Safe to call while serving.
func (h *Handler) SetDefaults(d Defaults) {
	if d.Workers < 1 {
		d.Workers = 1
	}
	if d.Format == "" {
		d.Format = emitter.FormatPNG
	}
	h.defaults.Store(&d)
	log.Info(log.CatServe, "Defaults updated", "params", d.Params.String(), "workers", d.Workers, "palette", d.Palette)
}

// Defaults returns the current request defaults.
func (h *Handler) Defaults() Defaults {
	return *h.defaults.Load()
}

// Routes returns an http.Handler with all routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /render", h.Render)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

// Render handles GET /render. Every query parameter is optional:
// width, height, max_iters, min_real, max_real, min_imag, max_imag, workers,
// palette, format and flip.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	d := h.Defaults()
	req, err := parseRequest(r.URL.Query(), d)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}
	if d.MaxPixels > 0 && req.params.Pixels() > d.MaxPixels {
		h.writeError(w, http.StatusRequestEntityTooLarge, "too_large",
			fmt.Sprintf("%d pixels exceeds the limit of %d", req.params.Pixels(), d.MaxPixels), "")
		return
	}

	img, src, err := h.images.Fetch(r.Context(), cacheKey(req), req, d.CacheTTL, true)
	if err != nil {
		status := http.StatusInternalServerError
		code := "render_failed"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
			code = "cancelled"
		}
		log.ErrorErr(log.CatServe, "Render failed", err, "params", req.params.String())
		h.writeError(w, status, code, "render failed", err.Error())
		return
	}

	etag := img.ETag()
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Mandelgather-Checksum", img.Checksum)
	w.Header().Set("X-Mandelgather-Cache", src.String())
	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Body)
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{}
	if h.stats != nil {
		s := h.stats.Stats()
		resp = StatsResponse{Cached: true, Hits: s.Hits, Misses: s.Misses, Items: s.Items}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) render(ctx context.Context, req renderRequest) (Image, error) {
	began := time.Now()
	grid, err := h.renderer.Render(ctx, req.params, req.workers)
	if err != nil {
		return Image{}, err
	}
	var buf bytes.Buffer
	if err := emitter.Encode(&buf, grid, req.opts); err != nil {
		return Image{}, err
	}
	log.Debug(log.CatServe, "Rendered", "params", req.params.String(), "workers", req.workers, "elapsed", time.Since(began), "bytes", buf.Len())
	return Image{
		Body:        buf.Bytes(),
		ContentType: contentType(req.opts.Format),
		Checksum:    grid.Checksum(),
		Variant:     variant(req),
	}, nil
}

// cacheKey leaves out the worker count: any partition yields the same grid.
func cacheKey(req renderRequest) string {
	return fmt.Sprintf("%s|%s|%s|%t", req.params.Digest(), req.palette, req.opts.Format, req.opts.Flip)
}

func variant(req renderRequest) string {
	v := req.palette + "." + string(req.opts.Format)
	if req.opts.Flip {
		v += ".flip"
	}
	return v
}

func contentType(f emitter.Format) string {
	if f == emitter.FormatPNG {
		return "image/png"
	}
	return "image/x-portable-pixmap"
}

func parseRequest(q url.Values, d Defaults) (renderRequest, error) {
	p := d.Params
	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"width", &p.Width},
		{"height", &p.Height},
		{"max_iters", &p.MaxIters},
	}
	for _, f := range ints {
		if *f.dst, err = intParam(q, f.key, *f.dst); err != nil {
			return renderRequest{}, err
		}
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"min_real", &p.Region.MinReal},
		{"max_real", &p.Region.MaxReal},
		{"min_imag", &p.Region.MinImag},
		{"max_imag", &p.Region.MaxImag},
	}
	for _, f := range floats {
		if *f.dst, err = floatParam(q, f.key, *f.dst); err != nil {
			return renderRequest{}, err
		}
	}
	if err := p.Validate(); err != nil {
		return renderRequest{}, err
	}

	workers, err := intParam(q, "workers", d.Workers)
	if err != nil {
		return renderRequest{}, err
	}
	// More workers than rows is allowed; the surplus ranks compute nothing.
	if workers < 1 || workers > MaxWorkers {
		return renderRequest{}, fmt.Errorf("workers must be in [1, %d], got %d", MaxWorkers, workers)
	}

	format := d.Format
	if s := q.Get("format"); s != "" {
		if format, err = emitter.ParseFormat(s); err != nil {
			return renderRequest{}, err
		}
	}
	palette := d.Palette
	if s := q.Get("palette"); s != "" {
		palette = s
	}
	switch palette {
	case "", "classic":
		palette = "classic"
	case "grayscale", "gray":
		palette = "grayscale"
	default:
		return renderRequest{}, fmt.Errorf("unknown palette %q", palette)
	}
	flip := false
	if s := q.Get("flip"); s != "" {
		if flip, err = strconv.ParseBool(s); err != nil {
			return renderRequest{}, fmt.Errorf("flip: %w", err)
		}
	}

	return renderRequest{
		params:  p,
		workers: workers,
		palette: palette,
		opts: emitter.Options{
			Format:  format,
			Palette: emitter.PaletteByName(palette, p.MaxIters),
			Flip:    flip,
		},
	}, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func floatParam(q url.Values, key string, def float64) (float64, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatServe, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
