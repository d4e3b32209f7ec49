// internal/admin/router.go

// Package admin serves the door node's operator HTTP API.
// Handlers never touch the winch directly; commands are queued to the node loop.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tamzrod/secmesh/internal/app"
)

// Door is the node surface the API drives.
type Door interface {
	Status() app.Status
	Trigger(ctx context.Context) error
	Rewind(ctx context.Context, ticks int64) error
	SetLocked(ctx context.Context, locked bool) error
}

// Handler serves admin endpoints.
type Handler struct {
	door Door
}

func NewHandler(d Door) *Handler {
	return &Handler{door: d}
}

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(d Door) http.Handler {
	h := NewHandler(d)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", h.Health)
	r.Get("/status", h.GetStatus)

	r.Route("/winch", func(r chi.Router) {
		r.Post("/trigger", h.Trigger)
		r.Post("/rewind", h.Rewind)
	})

	r.Post("/lock", h.Lock)
	r.Post("/unlock", h.Unlock)

	return r
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]interface{}{
		"error": message,
		"code":  status,
	})
}

func successResponse(w http.ResponseWriter, message string) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"message": message,
	})
}

// commandError maps node errors onto HTTP statuses.
func commandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrBusy):
		errorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrLocked):
		errorResponse(w, http.StatusLocked, err.Error())
	case errors.Is(err, app.ErrStopped):
		errorResponse(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		errorResponse(w, http.StatusGatewayTimeout, "node loop did not answer")
	default:
		errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

// ============================================================================
// Read endpoints
// ============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "service": "doornode"})
}

// StatusResponse is the JSON view of app.Status.
type StatusResponse struct {
	Name          string  `json:"name"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Locked        bool    `json:"locked"`
	Health        uint16  `json:"health"`
	LastError     string  `json:"last_error,omitempty"`
	SecondsInErr  uint16  `json:"seconds_in_error"`
	Phase         string  `json:"phase"`
	Cycles        uint64  `json:"cycles"`
	Errors        uint64  `json:"errors"`
	FallbackMode  bool    `json:"fallback_mode"`
	LastOpen      int64   `json:"last_open_ticks"`
	LastClose     int64   `json:"last_close_ticks"`
	PeakRate      float64 `json:"peak_rate"`

	Transport TransportStats `json:"transport"`
}

type TransportStats struct {
	Sent        uint64 `json:"sent"`
	SendErrors  uint64 `json:"send_errors"`
	AckTimeouts uint64 `json:"ack_timeouts"`
	Received    uint64 `json:"received"`
	Dropped     uint64 `json:"dropped"`
	Unhandled   uint64 `json:"unhandled"`
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s := h.door.Status()

	resp := StatusResponse{
		Name:          s.Name,
		UptimeSeconds: int64(s.Uptime / time.Second),
		Locked:        s.Locked,
		Health:        s.Snapshot.Health,
		SecondsInErr:  s.Snapshot.SecondsInError,
		Phase:         s.Winch.Phase.String(),
		Cycles:        s.Winch.Cycles,
		Errors:        s.Winch.Errors,
		FallbackMode:  s.Winch.FallbackMode,
		LastOpen:      s.Winch.LastOpenTicks,
		LastClose:     s.Winch.LastCloseTicks,
		PeakRate:      s.Winch.PeakRate,
		Transport: TransportStats{
			Sent:        s.Transport.Sent,
			SendErrors:  s.Transport.SendErrors,
			AckTimeouts: s.Transport.AckTimeouts,
			Received:    s.Transport.Received,
			Dropped:     s.Transport.Dropped,
			Unhandled:   s.Transport.Unhandled,
		},
	}
	if s.Winch.Errors > 0 {
		resp.LastError = s.Winch.LastError.String()
	}
	jsonResponse(w, http.StatusOK, resp)
}

// ============================================================================
// Commands
// ============================================================================

func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	if err := h.door.Trigger(r.Context()); err != nil {
		commandError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) Rewind(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ticks")
	ticks, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ticks <= 0 {
		errorResponse(w, http.StatusBadRequest, "ticks must be a positive integer")
		return
	}
	if err := h.door.Rewind(r.Context(), ticks); err != nil {
		commandError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]interface{}{"status": "queued", "ticks": ticks})
}

func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	if err := h.door.SetLocked(r.Context(), true); err != nil {
		commandError(w, err)
		return
	}
	successResponse(w, "locked")
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	if err := h.door.SetLocked(r.Context(), false); err != nil {
		commandError(w, err)
		return
	}
	successResponse(w, "unlocked")
}
