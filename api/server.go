package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

// SessionReader is the read-only view of the session registry the API needs
type SessionReader interface {
	Get(id string) (service.SessionInfo, bool)
	List() []service.SessionInfo
	Count() int
}

// ClientCounter reports the number of live connections
type ClientCounter interface {
	Count() int
}

// WebSocketHandler serves one upgraded connection for a client id
type WebSocketHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request, id string)
}

// Server represents the HTTP surface of the broker
type Server struct {
	sessions SessionReader
	clients  ClientCounter
	ws       WebSocketHandler
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	router   *mux.Router
}

// NewServer creates a new API server. A nil gatherer disables /metrics.
func NewServer(sessions SessionReader, clients ClientCounter, ws WebSocketHandler, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	s := &Server{
		sessions: sessions,
		clients:  clients,
		ws:       ws,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "api").Logger(),
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Read-only session inspection
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")

	// WebSocket
	api.HandleFunc("/ws/{id}", s.handleWebSocket)
	s.router.HandleFunc("/ws/{id}", s.handleWebSocket)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// logRequests logs every request except WebSocket sessions, which log their own lifecycle
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Session Handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()

	query := r.URL.Query()
	order := query.Get("order")    // "asc", "desc" (default: "desc")
	limitStr := query.Get("limit") // number of sessions to return

	if order == "" {
		order = "desc"
	}

	sort.Slice(sessions, func(i, j int) bool {
		ti, tj := sessions[i].CreatedAt, sessions[j].CreatedAt
		if ti.Equal(tj) {
			return sessions[i].ID < sessions[j].ID
		}
		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	total := len(sessions)
	limit := total
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < total {
			limit = l
		}
	}
	sessions = sessions[:limit]

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	info, ok := s.sessions.Get(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, service.ErrSessionNotFound.Error())
		return
	}

	respondJSON(w, http.StatusOK, info)
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// mux matches on the decoded path, so "%20" arrives here as a space.
	s.ws.ServeWS(w, r, mux.Vars(r)["id"])
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"clients":  s.clients.Count(),
		"sessions": s.sessions.Count(),
	})
}
