package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/camasync/syncengine/internal/api/middleware"
)

// RouterConfig holds router configuration: which middleware to enable and
// their settings, plus the Handlers this control plane serves.
type RouterConfig struct {
	EnableAuth        bool
	EnableRateLimit   bool
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	AuthConfig middleware.AuthConfig

	RateLimitPerMinute int
	RateLimitBurst     int

	CORSConfig middleware.CORSConfig

	Logger *slog.Logger

	Handlers *Handlers
}

// DefaultRouterConfig returns a default router configuration for h.
func DefaultRouterConfig(logger *slog.Logger, h *Handlers) RouterConfig {
	return RouterConfig{
		EnableAuth:         false,
		EnableRateLimit:    true,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      true,
		RateLimitPerMinute: 300,
		RateLimitBurst:     50,
		CORSConfig:         middleware.DefaultCORSConfig(),
		Logger:             logger,
		Handlers:           h,
	}
}

// NewRouter builds the sync control plane's HTTP router:
//   - POST   /sync/full
//   - POST   /sync/incremental
//   - GET    /sync/status/{job_id}
//   - POST   /sync/cancel/{job_id}
//   - GET    /sync/stream       (websocket)
//   - GET    /health/live
//   - GET    /health/ready
//   - GET    /metrics           (Prometheus exposition)
//   - GET    /docs/*            (swagger UI)
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(cfg.Logger))
	if cfg.EnableMetrics {
		r.Use(middleware.MetricsMiddleware)
	}
	if cfg.EnableCORS {
		r.Use(middleware.CORSMiddleware(cfg.CORSConfig))
	}
	if cfg.EnableCompression {
		r.Use(middleware.CompressionMiddleware)
	}
	if cfg.EnableRateLimit {
		r.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute, cfg.RateLimitBurst))
	}

	h := cfg.Handlers

	sync := r.PathPrefix("/sync").Subrouter()
	if cfg.EnableAuth {
		sync.Use(middleware.AuthMiddleware(cfg.AuthConfig))
	}
	sync.HandleFunc("/full", h.PostSyncFull).Methods(http.MethodPost)
	sync.HandleFunc("/incremental", h.PostSyncIncremental).Methods(http.MethodPost)
	sync.HandleFunc("/status/{job_id}", h.GetSyncStatus).Methods(http.MethodGet)
	sync.HandleFunc("/cancel/{job_id}", h.PostSyncCancel).Methods(http.MethodPost)
	sync.HandleFunc("/stream", h.GetSyncStream).Methods(http.MethodGet)

	r.HandleFunc("/health/live", h.GetHealthLive).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.GetHealthReady).Methods(http.MethodGet)

	if cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	r.PathPrefix("/docs/").Handler(httpSwagger.WrapHandler)

	return r
}
