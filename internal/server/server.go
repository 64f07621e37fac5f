// Package server exposes the store over a local HTTP API.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/yourusername/bulletin/internal/auth"
	"github.com/yourusername/bulletin/internal/store"
)

// maxBodyBytes caps request bodies, including restored snapshots.
const maxBodyBytes = 10 << 20

// Server routes HTTP requests to the store.
type Server struct {
	store  *store.Store
	page   http.Handler
	auth   *auth.Checker
	logger *slog.Logger
	router *mux.Router
}

// New builds the router. page serves GET /; a nil page leaves the route unset.
func New(st *store.Store, page http.Handler, checker *auth.Checker) *Server {
	return NewWithLogger(st, page, checker, slog.Default())
}

// NewWithLogger builds the router with a custom logger.
func NewWithLogger(st *store.Store, page http.Handler, checker *auth.Checker, logger *slog.Logger) *Server {
	if checker == nil {
		checker = auth.NewChecker("")
	}
	s := &Server{
		store:  st,
		page:   page,
		auth:   checker,
		logger: logger.With("component", "server.http"),
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestID, s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.requireSession(s.handleLogout)).Methods(http.MethodPost)

	r.HandleFunc("/collection/{name}", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/collection/{name}", s.requireSession(s.handleCreate)).Methods(http.MethodPost)
	r.HandleFunc("/collection/{name}/{id}", s.requireSession(s.handleDelete)).Methods(http.MethodDelete)

	r.HandleFunc("/backup", s.handleBackup).Methods(http.MethodGet)
	r.HandleFunc("/restore", s.requireSession(s.handleRestore)).Methods(http.MethodPost)
	r.HandleFunc("/clear", s.requireSession(s.handleClear)).Methods(http.MethodDelete)
	r.HandleFunc("/sync", s.requireSession(s.handleSync)).Methods(http.MethodPost)

	if s.page != nil {
		r.Handle("/", s.page).Methods(http.MethodGet, http.MethodHead)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
