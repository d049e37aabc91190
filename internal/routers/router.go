package routers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"codesync/internal/api"
	"codesync/internal/config"
	"codesync/internal/metrics"
	"codesync/internal/relay"
)

// New wires the HTTP surface: health, room status, token minting, the
// Prometheus endpoint and the websocket entry point.
func New(log *zap.Logger, cfg *config.Config, rel *relay.Relay) http.Handler {
	h := api.NewHandlers(log, rel, cfg)
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))
	r.Use(metrics.Middleware("codesync"))

	r.Get("/api/v1/healthz", h.Health)
	r.Get("/api/v1/rooms/{roomId}", h.RoomStatus)
	r.Post("/api/v1/rooms/token", h.MintRoomToken)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/ws", h.CollabWS)

	return r
}
