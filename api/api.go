// Package api exposes the acquisition service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire"
	"github.com/notbrokker/notbrokker-property-api-sub001/cache"
	"github.com/notbrokker/notbrokker-property-api-sub001/failure"
	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
	"github.com/notbrokker/notbrokker-property-api-sub001/shield"
)

// Acquirer is what the API serves. *acquire.Service implements it.
type Acquirer interface {
	Extract(ctx context.Context, url string) (*acquire.Result, error)
	Search(ctx context.Context, c acquire.Criteria) ([]acquire.Result, error)
	ClassifyPortal(url string) portal.ID
	Registry() *portal.Registry
	Cache() *cache.Layer
}

// Options configures the router.
type Options struct {
	// Limiter throttles the acquisition endpoints. Nil disables limiting.
	Limiter *shield.RateLimiter
	// Gatherer backs /metrics. Default prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

func (o *Options) defaults() {
	if o.Gatherer == nil {
		o.Gatherer = prometheus.DefaultGatherer
	}
}

type handler struct {
	svc  Acquirer
	opts Options
}

// NewRouter builds the HTTP surface.
func NewRouter(svc Acquirer, opts Options) http.Handler {
	opts.defaults()
	h := &handler{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	for _, mw := range shield.Stack(nil) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}
		r.Post("/extract", h.extract)
		r.Post("/search", h.search)
	})

	r.Get("/portal", h.classify)
	r.Get("/portals", h.portals)

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", h.cacheStats)
		r.Delete("/", h.cacheClear)
		r.Delete("/{category}", h.cacheClear)
	})
	return r
}

func (h *handler) extract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Extract(r.Context(), req.URL)
	if err != nil {
		h.writeFailure(w, r, err, failure.Context{URL: req.URL})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	var c acquire.Criteria
	if !decode(w, r, &c) {
		return
	}
	items, err := h.svc.Search(r.Context(), c)
	if err != nil {
		h.writeFailure(w, r, err, failure.Context{Portal: string(c.Portal)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

func (h *handler) classify(w http.ResponseWriter, r *http.Request) {
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	if u == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Message: "falta el parámetro url"})
		return
	}
	id := h.svc.ClassifyPortal(u)
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       u,
		"portal":    id,
		"name":      h.svc.Registry().Profile(id).Name,
		"supported": id != portal.Unknown,
	})
}

func (h *handler) portals(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		ID      portal.ID `json:"id"`
		Name    string    `json:"name"`
		Domains []string  `json:"domains"`
		Search  bool      `json:"search"`
	}
	reg := h.svc.Registry()
	var out []entry
	for _, id := range reg.IDs() {
		p := reg.Profile(id)
		out = append(out, entry{ID: id, Name: p.Name, Domains: p.Domains, Search: p.SearchTemplate() != nil})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Cache().Stats(r.URL.Query().Get("category")))
}

func (h *handler) cacheClear(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	n := h.svc.Cache().Clear(r.Context(), category)
	shield.GetLogger(r.Context()).Info("api: cache cleared", "category", category, "removed", n)
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "removed": n})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

func (h *handler) writeFailure(w http.ResponseWriter, r *http.Request, err error, c failure.Context) {
	var rec *failure.Record
	if !errors.As(err, &rec) {
		rec = failure.Classify(err, c)
	}
	shield.GetLogger(r.Context()).Info("api: request failed", "kind", rec.Kind, "code", rec.Code, "stage", rec.Stage)
	writeJSON(w, rec.Code, errorBody{Error: string(rec.Kind), Message: rec.Message, URL: rec.URL})
}

// decode reads a JSON body, answering 400 itself when it cannot.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "cuerpo JSON inválido"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "cuerpo demasiado grande"
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Message: msg})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
