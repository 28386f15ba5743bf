package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

// SetupRoutes configures all engine routes.
func SetupRoutes(h *Handlers, allowedOrigins []string, metricsPath string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)
	if h.metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Post("/executions", h.ExecuteCampaign)
			r.Get("/status", h.GetCampaignStatus)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/active", h.GetActiveExecutions)
			r.Get("/{executionID}", h.GetExecution)
			r.Post("/{executionID}/advance", h.AdvanceExecution)
			r.Post("/{executionID}/pause", h.PauseExecution)
			r.Post("/{executionID}/resume", h.ResumeExecution)
		})

		r.Post("/handover/evaluate", h.EvaluateHandover)
		r.Post("/messages", h.SendMessage)
		r.Put("/leads/{leadID}/qualification", h.UpdateQualification)
		r.Post("/maintenance/cleanup", h.CleanupOldExecutions)

		r.Get("/chat/{leadID}/stream", h.ChatStream)
	})

	return r
}

// requestLogger logs one line per request through the engine logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Info("[API] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
