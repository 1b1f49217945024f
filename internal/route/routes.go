package route

import (
	"net/http"

	"github.com/gorilla/mux"

	"detectionapi/internal/handler"
	"detectionapi/internal/logger"
	"detectionapi/internal/middleware"
	"detectionapi/internal/observability"
	"detectionapi/internal/repository"
	"detectionapi/internal/service"
	"detectionapi/internal/service/storage"
	"detectionapi/internal/service/websocket"
)

// Deps are the services the HTTP API is built on. Hub and ArtifactsDir are optional.
// AllowLogClear registers DELETE /logs/{level}.
type Deps struct {
	Processor    service.Processor
	Catalog      repository.Catalog
	Hub          *websocket.HubService
	Metrics      *observability.Metrics
	Logger       *logger.Logger
	Health       handler.HealthInfo
	ArtifactsDir string

	DetectRateLimit float64
	DetectRateBurst int
	AllowLogClear   bool
}

// SetupRoutes registers the API endpoints and wraps the router with request id and CORS middleware.
func SetupRoutes(d Deps) http.Handler {
	r := mux.NewRouter()

	var httpMetrics *observability.HTTPMetrics
	if d.Metrics != nil {
		httpMetrics = d.Metrics.HTTP
	}
	r.Use(middleware.LoggingMiddleware(d.Logger, httpMetrics))

	// API endpoints
	r.HandleFunc("/", handler.LatestResultHandler(d.Catalog, d.Logger)).Methods(http.MethodGet)
	r.Handle("/detect", middleware.RateLimitMiddleware(d.DetectRateLimit, d.DetectRateBurst)(
		handler.DetectHandler(d.Processor, d.Logger),
	)).Methods(http.MethodPost)
	r.HandleFunc("/results", handler.ListResultsHandler(d.Catalog, d.Logger)).Methods(http.MethodGet)
	r.HandleFunc("/results/{id}", handler.GetResultHandler(d.Catalog, d.Logger)).Methods(http.MethodGet)
	r.HandleFunc("/health", handler.HealthHandler(d.Health)).Methods(http.MethodGet)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}
	if d.Hub != nil {
		r.HandleFunc("/ws", handler.ViewWebsocketHandler(d.Hub, d.Logger))
	}

	// Log endpoints
	r.HandleFunc("/logs/{level}", handler.ShowLogsHandler(d.Logger)).Methods(http.MethodGet)
	if d.AllowLogClear {
		r.HandleFunc("/logs/{level}", handler.ClearLogsHandler(d.Logger)).Methods(http.MethodDelete)
	}

	// Artifacts of the local store
	if d.ArtifactsDir != "" {
		r.PathPrefix(storage.ArtifactsPrefix).Handler(
			http.StripPrefix(storage.ArtifactsPrefix, http.FileServer(http.Dir(d.ArtifactsDir))),
		).Methods(http.MethodGet, http.MethodHead)
	}

	return middleware.RequestIDMiddleware(middleware.CORSMiddleware(r))
}
