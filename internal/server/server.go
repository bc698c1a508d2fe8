package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"kenbright-chat-gateway/internal/config"
	"kenbright-chat-gateway/internal/types"
)

// ErrNoBackend is returned when no upstream base URL could be resolved from
// the environment. The gateway refuses to start rather than guess a host.
var ErrNoBackend = errors.New("no backend base URL configured (set API_URL or enable DEV_MODE)")

// Server is the browser-facing gateway. It relays chat requests to the
// upstream answer backend, pipes the answer stream through unaltered, and
// serves allow-listed PDF documents.
type Server struct {
	router *chi.Mux
	cfg    config.Config
	client *http.Client
}

func NewServer(cfg config.Config) (*Server, error) {
	if cfg.BackendBase == "" {
		return nil, ErrNoBackend
	}
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	s := &Server{
		router: r,
		cfg:    cfg,
		client: &http.Client{},
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/api/chat", s.handleHealth)
	s.router.Post("/api/chat", s.handleAsk)
	s.router.Post("/api/chat/stream", s.handleAskStream)
	s.router.Get("/pdf", s.handlePDF)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}
