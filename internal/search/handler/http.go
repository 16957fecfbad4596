package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Cache is the part of cache.Cache served over HTTP.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, error)
	Peek(key string) ([]string, time.Time, bool)
	Invalidate(key string) bool
}

// Seeder replaces the backing results for a query.
type Seeder interface {
	Seed(ctx context.Context, query string, results ...string) error
}

type HTTP struct {
	cache  Cache
	seeder Seeder
}

func NewHTTP(c Cache) *HTTP {
	return &HTTP{cache: c}
}

// WithSeeder enables PUT /v1/search/{key}.
func (h *HTTP) WithSeeder(s Seeder) *HTTP {
	h.seeder = s
	return h
}

func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	h.Routes(r)
	return r
}

// Routes wires GET /v1/search and GET, PUT, DELETE /v1/search/{key}.
func (h *HTTP) Routes(r chi.Router) {
	r.Get("/v1/search", h.search)
	r.Get("/v1/search/{key}", h.peek)
	r.Put("/v1/search/{key}", h.seed)
	r.Delete("/v1/search/{key}", h.invalidate)
}

type searchResponse struct {
	Query     string     `json:"query"`
	Results   []string   `json:"results"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *HTTP) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q", http.StatusBadRequest)
		return
	}
	results, err := h.cache.Get(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q, Results: results})
}

// peek reports the cached value without computing it.
func (h *HTTP) peek(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	results, expiresAt, ok := h.cache.Peek(key)
	if !ok {
		http.Error(w, "not cached", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: key, Results: results, ExpiresAt: &expiresAt})
}

func (h *HTTP) invalidate(w http.ResponseWriter, r *http.Request) {
	if !h.cache.Invalidate(chi.URLParam(r, "key")) {
		http.Error(w, "not cached", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type seedPayload struct {
	Results []string `json:"results"`
}

// seed replaces the backing results and drops the cached copy so the next
// search recomputes.
func (h *HTTP) seed(w http.ResponseWriter, r *http.Request) {
	if h.seeder == nil {
		http.Error(w, "seeding disabled", http.StatusNotImplemented)
		return
	}
	var payload seedPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := chi.URLParam(r, "key")
	if err := h.seeder.Seed(r.Context(), key, payload.Results...); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.cache.Invalidate(key)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
