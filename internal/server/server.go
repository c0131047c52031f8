// Package server exposes the stream registry over HTTP: JSON snapshot
// and alignment reads, reconfiguration, and the websocket upgrade.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/notify"
	"github.com/slaclab/bsastream/internal/stream"
	"github.com/slaclab/bsastream/internal/ws"
)

type Server struct {
	registry *stream.Registry
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewServer(registry *stream.Registry, notifier notify.Notifier, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		notifier: notifier,
		logger:   logger,
	}
}

// NewRouter builds the HTTP routes. hub may be nil when websocket
// streaming is disabled.
func NewRouter(server *Server, hub *ws.Hub, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", server.handleHealth)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/streams", server.handleListStreams)
		api.Get("/streams/{name}/snapshot", server.handleSnapshot)
		api.Put("/streams/{name}", server.handleReconfigureStream)
		api.Get("/pairs/{name}/aligned", server.handleAligned)
		api.Put("/pairs/{name}", server.handleReconfigurePair)
	})

	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}
