// Package api exposes the query service and crawl uploads over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rpattn/cohortwatch/internal/middleware"
	"github.com/rpattn/cohortwatch/internal/query"
	"github.com/rpattn/cohortwatch/internal/repository"
)

// Pinger reports database reachability for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the router's collaborators. Crawl and DB may be nil.
type Options struct {
	Query          *query.Service
	Entities       repository.EntityRepository
	Crawl          http.Handler
	DB             Pinger
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{query: opts.Query, db: opts.DB, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LoggingMiddleware(logger))

	r.Get("/", h.status)
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.Entities != nil {
			r.Use(middleware.DataLoaderMiddleware(opts.Entities))
		}
		r.Get("/search", h.search)
		r.Get("/companies/{id}", h.detail)
		r.Get("/leaderboard", h.leaderboard)
		r.Get("/trends", h.trends)
		r.Get("/runs", h.runs)
		r.Get("/runs/{id}/failures", h.runFailures)
		if opts.Crawl != nil {
			r.Method(http.MethodPost, "/runs", opts.Crawl)
		}
	})

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(r)
}
