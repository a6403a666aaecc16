// Package http exposes the bot over a small webhook API. Chat platforms
// push decoded user events to POST /v1/events and relay the reply text.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chequebot/internal/bot"
)

// EventHandler answers one user event; satisfied by bot.Bot.
type EventHandler interface {
	Handle(ctx context.Context, ev bot.Event) (string, error)
}

type Server struct {
	handler EventHandler
	router  *mux.Router
}

func NewServer(handler EventHandler) *Server {
	s := &Server{handler: handler, router: mux.NewRouter()}
	s.router.Use(loggingMiddleware)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/events", s.event).Methods(http.MethodPost)
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

type eventRequest struct {
	UserID     string `json:"user_id"`
	Type       string `json:"type"` // text, photo, command
	Text       string `json:"text,omitempty"`
	Photo      string `json:"photo,omitempty"` // base64
	MimeType   string `json:"mime_type,omitempty"`
	MessageRef string `json:"message_ref,omitempty"`
}

type eventResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) event(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	ev := bot.Event{
		UserID:     req.UserID,
		Text:       req.Text,
		MimeType:   req.MimeType,
		MessageRef: req.MessageRef,
	}
	switch req.Type {
	case "text":
		ev.Kind = bot.EventText
		if req.Text == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required for text events"})
			return
		}
	case "command":
		ev.Kind = bot.EventCommand
	case "photo":
		ev.Kind = bot.EventPhoto
		photo, err := base64.StdEncoding.DecodeString(req.Photo)
		if err != nil || len(photo) == 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "photo must be non-empty base64"})
			return
		}
		ev.Photo = photo
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "type must be text, photo or command"})
		return
	}

	reply, err := s.handler.Handle(r.Context(), ev)
	if err != nil {
		slog.ErrorContext(r.Context(), "Event handling failed",
			"user_id", req.UserID, "type", req.Type, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Text: reply})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.InfoContext(r.Context(), "Request served",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}
