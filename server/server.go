package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/transit-data-tools/transitperf/config"
	"github.com/transit-data-tools/transitperf/store"
)

// Server exposes stored run results over HTTP.
type Server struct {
	st     store.Store
	router chi.Router
}

// New wires the routes over st.
func New(st store.Store, cfg config.ServerConfig) *Server {
	s := &Server{st: st}

	r := chi.NewRouter()
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/runs/{runID}/aggregates", s.handleAggregates)
		r.Get("/runs/{runID}/quality", s.handleQuality)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
