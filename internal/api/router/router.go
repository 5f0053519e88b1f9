package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/clinic-queue/internal/http/middleware"
	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	QueueHandler       *queue.Handler
	RealtimeHandler    http.HandlerFunc
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
	RateLimiter        *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}
	// Socket connections outlive the request timeout.
	if cfg.RealtimeHandler != nil {
		r.Get("/ws", cfg.RealtimeHandler)
	}

	if cfg.QueueHandler != nil {
		h := cfg.QueueHandler
		r.Route("/queue", func(q chi.Router) {
			if cfg.RequestTimeout > 0 {
				q.Use(middleware.Timeout(cfg.RequestTimeout))
			}
			if cfg.RateLimiter != nil {
				q.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			q.Use(middleware.Compress(5))

			q.Get("/", h.WaitingQueue)
			q.Get("/doctor", h.DoctorQueue)
			q.Post("/call-next", h.CallNext)
			q.Get("/patients/{patientID}/token", h.ActiveToken)
			q.Post("/tokens", h.Enqueue)
			q.Route("/tokens/{tokenID}", func(t chi.Router) {
				t.Get("/", h.Token)
				t.Get("/events", h.History)
				t.Patch("/emergency", h.MarkEmergency)
				t.Patch("/skip", h.Skip)
				t.Patch("/in-progress", h.MarkInProgress)
				t.Patch("/complete", h.Complete)
				t.Patch("/notes", h.UpdateNotes)
			})
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
