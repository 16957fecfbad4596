package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/ridematch/internal/dispatch/domain"
	"github.com/example/ridematch/internal/dispatch/matching"
)

// Dispatcher is the subset of matching.Dispatcher the handler needs.
type Dispatcher interface {
	Submit(r domain.Request) error
	AddProvider(ctx context.Context, p domain.Provider) error
	WithdrawProvider(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (matching.Stats, error)
}

// EventLog serves recently recorded events, newest first.
type EventLog interface {
	Recent(ctx context.Context, n int64) ([]domain.Event, error)
}

const defaultEventLimit = 50

// HTTP exposes request intake, provider registration and stats.
type HTTP struct {
	dispatcher Dispatcher
	events     EventLog
}

// NewHTTP constructs a handler.
func NewHTTP(d Dispatcher) *HTTP {
	return &HTTP{dispatcher: d}
}

// WithEventLog enables GET /v1/events.
func (h *HTTP) WithEventLog(l EventLog) *HTTP {
	h.events = l
	return h
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	h.Routes(r)
	return r
}

// Routes registers the endpoints on an existing router.
func (h *HTTP) Routes(r chi.Router) {
	r.Post("/v1/requests", h.submitRequest)
	r.Post("/v1/providers", h.addProvider)
	r.Delete("/v1/providers/{id}", h.withdrawProvider)
	r.Get("/v1/stats", h.stats)
	r.Get("/v1/events", h.recentEvents)
}

type positionPayload struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

func decodePosition(r *http.Request) (positionPayload, error) {
	var payload positionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return payload, err
	}
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	return payload, nil
}

func (h *HTTP) submitRequest(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePosition(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := domain.Request{ID: payload.ID, Position: domain.Point{X: payload.X, Y: payload.Y}}
	if err := h.dispatcher.Submit(req); err != nil {
		if errors.Is(err, matching.ErrClosed) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *HTTP) addProvider(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePosition(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	provider := domain.Provider{ID: payload.ID, Position: domain.Point{X: payload.X, Y: payload.Y}}
	if err := h.dispatcher.AddProvider(r.Context(), provider); err != nil {
		if errors.Is(err, matching.ErrDuplicateProvider) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, provider)
}

func (h *HTTP) withdrawProvider(w http.ResponseWriter, r *http.Request) {
	removed, err := h.dispatcher.WithdrawProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !removed {
		http.Error(w, "provider not in pool", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dispatcher.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTP) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event log disabled", http.StatusNotImplemented)
		return
	}
	limit := int64(defaultEventLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	recent, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
