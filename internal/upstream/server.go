package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kenbright-chat-gateway/internal/types"
)

const answerTimeout = 120 * time.Second

// Server implements the upstream backend contract the gateway proxies to:
// GET /healthz, POST /ask, and POST /ask-stream with data:-framed events
// ending in a [DONE] sentinel.
type Server struct {
	router   *chi.Mux
	answerer Answerer
	apiKey   string
}

// NewServer wires the routes. When apiKey is non-empty, /ask and /ask-stream
// require a matching X-API-KEY header.
func NewServer(answerer Answerer, apiKey string) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		answerer: answerer,
		apiKey:   apiKey,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Post("/ask", s.handleAsk)
	s.router.Post("/ask-stream", s.handleAskStream)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) authorized(r *http.Request) bool {
	return s.apiKey == "" || r.Header.Get("X-API-KEY") == s.apiKey
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req types.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Q) == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), answerTimeout)
	defer cancel()
	ans, err := s.answerer.Ask(ctx, req.Q)
	if err != nil {
		log.Printf("[ask] answer failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, types.AskResponse{
		Answer:    ans.Answer,
		Sources:   ans.Sources,
		FollowUps: ans.FollowUps,
	})
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if !s.authorized(r) {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req types.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Q) == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func(evt types.StreamEvent) error {
		b, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), answerTimeout)
	defer cancel()
	if err := s.answerer.AskStream(ctx, req.Q, emit); err != nil {
		log.Printf("[ask-stream] answer failed: %v", err)
		// Deliver the failure in-band; the stream is already committed.
		_ = emit(types.StreamEvent{Type: types.EventError, Message: err.Error()})
		return
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}
