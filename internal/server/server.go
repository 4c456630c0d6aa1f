// Package server exposes the relay over HTTP: the WebSocket endpoint for
// clients and the publish API for backends.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/twinelabs/twine/internal/registry"
	"github.com/twinelabs/twine/internal/relay"
)

// sessionCookieName is the cookie consulted when the handshake carries no
// session_id query parameter.
const sessionCookieName = "twinert"

// Config wires the relay components into the HTTP surface.
type Config struct {
	Publisher  *relay.Publisher
	Replayer   *relay.Replayer
	Classifier *relay.Classifier
	Registry   *registry.Registry
	Hub        *relay.Hub

	// CookieTTL bounds the twinert session cookie lifetime.
	CookieTTL time.Duration
}

// Server handles the relay's HTTP endpoints.
type Server struct {
	publisher  *relay.Publisher
	replayer   *relay.Replayer
	classifier *relay.Classifier
	registry   *registry.Registry
	hub        *relay.Hub
	cookieTTL  time.Duration
	upgrader   websocket.Upgrader
}

// New creates a server from wired relay components.
func New(cfg Config) *Server {
	cookieTTL := cfg.CookieTTL
	if cookieTTL <= 0 {
		cookieTTL = 24 * time.Hour
	}
	return &Server{
		publisher:  cfg.Publisher,
		replayer:   cfg.Replayer,
		classifier: cfg.Classifier,
		registry:   cfg.Registry,
		hub:        cfg.Hub,
		cookieTTL:  cookieTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browser clients connect from arbitrary origins; publisher
			// auth is out of scope and rooms carry no secrets
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler. CORS applies to the publish API only.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /api/messages", s.handlePublish)
	mux.HandleFunc("GET /session/cookie", s.handleSessionCookie)

	apiHandler := withCORS(corsOrigins, mux)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			apiHandler.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handlePublish appends a message to the durable log and broadcasts it.
// 202 means the message is durable; delivery to connected clients remains
// best-effort.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Room    string `json:"room"`
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	msg, err := s.publisher.Publish(r.Context(), req.Room, req.Payload)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("room", req.Room).Msg("publish failed")
		http.Error(w, "message log unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		log.Debug().Err(err).Msg("failed to write publish response")
	}
}

// handleSessionCookie issues a session identity in a cookie for browsers
// that cannot persist one themselves. The WebSocket handshake accepts the
// cookie as a fallback when the session_id query parameter is absent.
func (s *Server) handleSessionCookie(w http.ResponseWriter, r *http.Request) {
	id := uuid.Must(uuid.NewV7()).String()
	s.registry.Register(id, "", time.Now())

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"session_id": id}); err != nil {
		log.Debug().Err(err).Msg("failed to write cookie response")
	}
}

// withCORS adds CORS support for the publish API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return middleware.Handler(h)
}
