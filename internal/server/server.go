// Package server assembles the HTTP API on top of the storage clients.
package server

import (
	"net/http"

	"github.com/rumor-ml/bankstmt/internal/handlers"
	"github.com/rumor-ml/bankstmt/internal/middleware"
	"github.com/rumor-ml/bankstmt/internal/rulestore"
	"github.com/rumor-ml/bankstmt/internal/store"
)

// Server is the statement-ingestion API server.
type Server struct {
	mux *http.ServeMux
}

// New wires routes over existing storage clients.
func New(st *store.Client, rules *rulestore.Store) *Server {
	s := &Server{mux: http.NewServeMux()}

	auth := middleware.NewAuth(st.Auth)
	rulesHandler := handlers.NewRulesHandler(rules)
	statementsHandler := handlers.NewStatementsHandler(st)

	s.mux.HandleFunc("GET /health", handlers.HealthCheck)

	s.mux.Handle("GET /api/rules", auth.Require(http.HandlerFunc(rulesHandler.List)))
	s.mux.Handle("POST /api/rules", auth.Require(http.HandlerFunc(rulesHandler.Create)))
	s.mux.Handle("POST /api/rules/{id}/confirm", auth.Require(http.HandlerFunc(rulesHandler.Confirm)))
	s.mux.Handle("PATCH /api/rules/{id}", auth.Require(http.HandlerFunc(rulesHandler.Update)))

	s.mux.Handle("GET /api/statements/{id}", auth.Require(http.HandlerFunc(statementsHandler.Get)))
	s.mux.Handle("DELETE /api/statements/{id}", auth.Require(http.HandlerFunc(statementsHandler.Delete)))

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.mux)
}
