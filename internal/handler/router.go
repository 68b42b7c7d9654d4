/*
Package handler provides the HTTP handlers and routing setup for the ambient
sidecar alongside the TCP chat server.

This file defines the main Router, applying logging, recovery, and CORS
middleware ahead of the /health and /stats endpoints. The chat protocol
itself never touches this router; it exists purely for operators and
uptime monitoring.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"hzchat-tcp/internal/pkg/logx"
)

// Router builds the sidecar's chi.Router.
func Router(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	corsAllowedOrigins := []string{}
	if deps.Config.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth)
	r.Get("/stats", HandleStats(deps))

	return r
}
