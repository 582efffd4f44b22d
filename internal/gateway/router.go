// ABOUTME: HTTP routing for the gateway: health, metrics, websocket and the room API
// ABOUTME: API routes require a bearer JWT; /ws authenticates before upgrading

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/live"
)

// maxBodyBytes caps API request bodies.
const maxBodyBytes = 64 * 1024

func (g *Gateway) newRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(chimw.Recoverer)

	origins := g.config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	r.Handle("/ws", live.NewHandler(g.hub, g.verifier, g.store, g.config.Server.AllowedOrigins, g.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(g.verifier, g.logger))
		r.Use(chimw.RequestSize(maxBodyBytes))

		r.Get("/unread", g.handleUnreadSummary)
		r.Get("/rooms/last-messages", g.handleLastMessages)
		r.Post("/rooms/{roomID}/messages", g.handleSendMessage)
		r.Get("/rooms/{roomID}/messages", g.handleHistory)
		r.Post("/rooms/{roomID}/read", g.handleMarkRead)
	})

	return r
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ReadyResponse is the JSON body of GET /health/ready.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Agents bool              `json:"agents"`
}

// handleReady returns 200 when the broker answers a ping, 503 otherwise.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: map[string]string{"broker": "ok"}, Agents: g.orchestrate}
	status := http.StatusOK
	if err := g.broker.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Checks["broker"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
