package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.sources.Metrics != nil {
		r.Handle("/metrics", s.sources.Metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/pools/{id:[0-9]+}", s.handlePool).Methods(http.MethodGet)
	v1.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)

	return r
}
