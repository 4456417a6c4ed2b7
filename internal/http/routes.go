package httpx

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/observability/metrics"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Dispatcher JobStarter
	Callbacks  CallbackApplier
	Status     StatusReader
	// Optional: push stream for GET /api/jobs/{id}/watch. Without it the route is not registered.
	Changes core.ChangeSubscriber
	// Optional: Prometheus exposition handler for GET /metrics.
	MetricsHandler http.Handler
	// Optional: request metrics.
	Collectors *metrics.Collectors
	// MaxBodyBytes caps request bodies. Zero disables the cap.
	MaxBodyBytes int64
	// CheckOrigin overrides the websocket origin check. Nil accepts same-origin requests only.
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

// NewRouter creates the API router wrapped in the standard middleware chain:
// Recover -> RequestID -> Logging -> MaxBytes -> Metrics -> mux.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	registerJobRoutes(mux, &JobHandlers{
		Dispatcher: services.Dispatcher,
		Callbacks:  services.Callbacks,
		Status:     services.Status,
	})
	if services.Changes != nil {
		mux.HandleFunc("GET /api/jobs/{id}/watch", (&WatchHandlers{
			Status:   services.Status,
			Changes:  services.Changes,
			Upgrader: websocket.Upgrader{CheckOrigin: services.CheckOrigin},
			Logger:   logger.With("component", "watch_handler"),
		}).Watch)
	}
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	if services.MetricsHandler != nil {
		mux.Handle("GET /metrics", services.MetricsHandler)
	}

	var h http.Handler = mux
	h = Metrics(services.Collectors)(h)
	h = MaxBytes(services.MaxBodyBytes)(h)
	h = Logging(logger)(h)
	h = RequestID()(h)
	h = Recover(logger)(h)
	return h
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.StartJob)
	mux.HandleFunc("POST /api/jobs/{id}/callback", h.Callback)
	mux.HandleFunc("GET /api/jobs/{id}/status", h.GetStatus)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
}
