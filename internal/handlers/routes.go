package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// requestTimeout bounds plain REST calls. Connection actions, broadcast-all
// and the streams run without it.
const requestTimeout = 30 * time.Second

// SetupRoutes configures all bridge routes. metrics serves /metrics and may
// be nil.
func SetupRoutes(r chi.Router, h *BridgeHandler, metrics http.Handler) {
	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.cors)

	// Health check
	r.Get("/health", h.HealthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// Documentation
	r.Get("/docs", h.ServeSwaggerUI)
	r.Get("/docs/", h.ServeSwaggerUI)
	r.Get("/docs/openapi.yaml", h.ServeOpenAPISpec)

	// Streams
	r.Get("/ws", h.ServeWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", h.StreamEvents)

		// Long-running radio actions
		r.Post("/connection/connect", h.Connect)
		r.Post("/connection/disconnect", h.Disconnect)
		r.Post("/connection/reset", h.ResetLink)
		r.Get("/connection/scan", h.ScanDevices)
		r.Post("/messages/broadcast-all", h.BroadcastAll)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/connection", h.GetConnectionStatus)

			// Nodes
			r.Route("/nodes", func(r chi.Router) {
				r.Get("/", h.ListNodes)
				r.Get("/live", h.GetLiveNodes)
				r.Post("/sync", h.SyncNodes)
				r.Get("/{id}", h.GetNode)
			})

			// Messages
			r.Get("/messages", h.ListMessages)
			r.Post("/messages", h.SendMessage)
			r.Get("/messages/channels", h.GetChannels)

			// Telemetry
			r.Get("/telemetry", h.ListTelemetry)
			r.Get("/telemetry/positions", h.ListPositions)

			// Traceroute
			r.Post("/traceroute", h.SendTraceroute)
		})
	})
}

// cors applies the configured CORS origins and answers preflight requests.
func (h *BridgeHandler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false
		for _, o := range h.opts.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
