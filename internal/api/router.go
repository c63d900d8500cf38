package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/session"
)

type RouterConfig struct {
	Services     Services
	Issuer       *session.Issuer
	Dependencies []Dependency
	Gatherer     prometheus.Gatherer
	CORSOrigins  []string
	RateLimitRPS int
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	svc := cfg.Services
	svc.Logger = logging.OrNop(svc.Logger)

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(svc.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitRPS, time.Second))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Issuer))

		// Slot endpoints
		r.Post("/slots", createSlotHandler(svc))
		r.Get("/slots", listSlotsHandler(svc))
		r.Get("/slots/{id}", getSlotHandler(svc))
		r.Patch("/slots/{id}", updateSlotHandler(svc))
		r.Delete("/slots/{id}", deleteSlotHandler(svc))

		// Booking endpoints
		r.Post("/bookings", createBookingHandler(svc))
		r.Get("/bookings", listBookingsHandler(svc))
		r.Get("/bookings/{id}", getBookingHandler(svc))
		r.Post("/bookings/{id}/{event}", transitionBookingHandler(svc))
		r.Delete("/bookings/{id}", deleteBookingHandler(svc))
	})

	return r
}
