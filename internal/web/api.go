// Package web serves the browser page and carries its events to the
// per-session controllers.
package web

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/briangreenhill/mapty/internal/app"
	"github.com/briangreenhill/mapty/internal/config"
	"github.com/briangreenhill/mapty/internal/workout"
)

//go:embed ui
var uiFiles embed.FS

type eventResponse struct {
	Commands []Command `json:"commands"`
}

type createSessionResponse struct {
	ID       string    `json:"id"`
	Commands []Command `json:"commands"`
}

type positionRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Error     string  `json:"error,omitempty"`
}

type keyRequest struct {
	Key  string         `json:"key"`
	Form app.FormValues `json:"form"`
}

type mapConfigResponse struct {
	TileURL    string   `json:"tileURL"`
	Subdomains []string `json:"subdomains"`
	MaxZoom    int      `json:"maxZoom"`
	Zoom       int      `json:"zoom"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewAPI(logger *slog.Logger, cfg config.Config, sessions *Registry) *http.ServeMux {
	ui, err := fs.Sub(uiFiles, "ui")
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /", http.FileServer(http.FS(ui)))
	mux.Handle("GET /map", handleMapConfig(logger, cfg.Map))
	mux.Handle("GET /healthz", handleHealthz())
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /sessions", handleCreateSession(logger, sessions))
	mux.Handle("POST /sessions/{id}/position", handlePosition(logger, sessions))
	mux.Handle("POST /sessions/{id}/clicks", handleClick(logger, sessions))
	mux.Handle("POST /sessions/{id}/kind", handleKindChange(logger, sessions))
	mux.Handle("POST /sessions/{id}/keys", handleKeyPress(logger, sessions))
	mux.Handle("GET /sessions/{id}/workouts", handleListWorkouts(logger, sessions))
	mux.Handle("GET /sessions/{id}/markers.gpx", handleMarkersGPX(logger, sessions))

	return mux
}

func handleHealthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func handleMapConfig(logger *slog.Logger, m config.Map) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(logger, w, http.StatusOK, mapConfigResponse{
			TileURL:    m.TileURL,
			Subdomains: m.Subdomains,
			MaxZoom:    m.MaxZoom,
			Zoom:       m.Zoom,
		})
	})
}

func handleCreateSession(logger *slog.Logger, sessions *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := sessions.Create()
		if err != nil {
			logger.Error("Error creating session", slog.Any("error", err))
			writeError(logger, w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}

		writeJSON(logger, w, http.StatusCreated, createSessionResponse{ID: s.id, Commands: s.view.drain()})
	})
}

func handlePosition(logger *slog.Logger, sessions *Registry) http.Handler {
	return withSession(logger, sessions, func(w http.ResponseWriter, r *http.Request, s *session) {
		var req positionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(logger, w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}

		p := app.Position{Location: workout.Location{Latitude: req.Latitude, Longitude: req.Longitude}}
		if req.Error != "" {
			p = app.Position{Err: errors.New(req.Error)}
		} else if !validLocation(p.Location) {
			writeError(logger, w, http.StatusBadRequest, "validation_failed", "coordinates out of range")
			return
		}

		if err := s.geo.resolve(p); err != nil {
			writeError(logger, w, http.StatusConflict, "conflict", err.Error())
			return
		}

		select {
		case <-s.controller.Ready():
		case <-r.Context().Done():
			return
		}

		writeJSON(logger, w, http.StatusOK, eventResponse{Commands: s.view.drain()})
	})
}

func handleClick(logger *slog.Logger, sessions *Registry) http.Handler {
	return withSession(logger, sessions, func(w http.ResponseWriter, r *http.Request, s *session) {
		var at workout.Location
		if err := json.NewDecoder(r.Body).Decode(&at); err != nil {
			writeError(logger, w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		if !validLocation(at) {
			writeError(logger, w, http.StatusBadRequest, "validation_failed", "coordinates out of range")
			return
		}

		h := s.view.clickHandler()
		if h == nil {
			writeError(logger, w, http.StatusConflict, "map_not_loaded", "map is not loaded")
			return
		}

		dispatch(logger, w, r, s, func() error { return h(r.Context(), at) })
	})
}

func handleKindChange(logger *slog.Logger, sessions *Registry) http.Handler {
	return withSession(logger, sessions, func(w http.ResponseWriter, r *http.Request, s *session) {
		h := s.view.kindHandler()
		if h == nil {
			writeError(logger, w, http.StatusConflict, "not_ready", "session is starting")
			return
		}

		dispatch(logger, w, r, s, func() error { return h(r.Context()) })
	})
}

func handleKeyPress(logger *slog.Logger, sessions *Registry) http.Handler {
	return withSession(logger, sessions, func(w http.ResponseWriter, r *http.Request, s *session) {
		var req keyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(logger, w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}

		h := s.view.keyHandler()
		if h == nil {
			writeError(logger, w, http.StatusConflict, "not_ready", "session is starting")
			return
		}

		s.view.setValues(req.Form)
		dispatch(logger, w, r, s, func() error { return h(r.Context(), req.Key) })
	})
}

func handleListWorkouts(logger *slog.Logger, sessions *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(logger, w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		workouts, err := s.store.List(r.Context())
		if err != nil {
			logger.Error("Error listing workouts", slog.Any("error", err))
			writeError(logger, w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}

		writeJSON(logger, w, http.StatusOK, workouts)
	})
}

func handleMarkersGPX(logger *slog.Logger, sessions *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(logger, w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		body, err := s.view.markersGPX()
		if err != nil {
			logger.Error("Error encoding markers", slog.Any("error", err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/gpx+xml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			logger.Error("Error writing markers", slog.Any("error", err))
		}
	})
}

// withSession resolves the session, applies its rate limit and holds its
// lock for the rest of the request.
func withSession(logger *slog.Logger, sessions *Registry, next func(http.ResponseWriter, *http.Request, *session)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(logger, w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if !s.limiter.Allow() {
			writeError(logger, w, http.StatusTooManyRequests, "rate_limited", "too many events")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		next(w, r, s)
	})
}

func dispatch(logger *slog.Logger, w http.ResponseWriter, r *http.Request, s *session, fn func() error) {
	if err := fn(); err != nil {
		if errors.Is(err, app.ErrStopped) {
			writeError(logger, w, http.StatusNotFound, "not_found", "session ended")
			return
		}
		logger.Error("Error handling event", slog.String("session", s.id), slog.Any("error", err))
		writeError(logger, w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(logger, w, http.StatusOK, eventResponse{Commands: s.view.drain()})
}

func validLocation(at workout.Location) bool {
	if math.IsNaN(at.Latitude) || math.IsNaN(at.Longitude) {
		return false
	}
	return at.Latitude >= -90 && at.Latitude <= 90 && at.Longitude >= -180 && at.Longitude <= 180
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response", slog.Any("error", err))
	}
}

func writeError(logger *slog.Logger, w http.ResponseWriter, status int, code, message string) {
	writeJSON(logger, w, status, errorResponse{Code: code, Message: message})
}
