package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/booking"
	"github.com/hackgods/availability-engine/internal/calendar"
	"github.com/hackgods/availability-engine/internal/schedule"
)

type RouterConfig struct {
	Engine   *availability.Engine
	Bookings *booking.Service
	Calendar *calendar.Service
	Postgres Pinger
	Redis    *redis.Client // nil when reservation locking is disabled
	Logger   *slog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Get("/providers/{providerID}/facilities/{facilityID}/slots", slotsHandler(cfg.Engine))
	r.Get("/facilities/{facilityID}/week", weekHandler(cfg.Engine))

	// Bookings
	svc := cfg.Bookings
	r.Post("/bookings", createBookingHandler(cfg.Engine))
	r.Get("/bookings/{id}", getBookingHandler(svc))
	r.Post("/bookings/{id}/confirm", transitionHandler(func(r *http.Request, id uuid.UUID) (*schedule.Booking, error) {
		return svc.Confirm(r.Context(), id)
	}))
	r.Post("/bookings/{id}/arrive", transitionHandler(func(r *http.Request, id uuid.UUID) (*schedule.Booking, error) {
		return svc.Arrive(r.Context(), id)
	}))
	r.Post("/bookings/{id}/start", transitionHandler(func(r *http.Request, id uuid.UUID) (*schedule.Booking, error) {
		return svc.Start(r.Context(), id)
	}))
	r.Post("/bookings/{id}/complete", transitionHandler(func(r *http.Request, id uuid.UUID) (*schedule.Booking, error) {
		return svc.Complete(r.Context(), id)
	}))
	r.Post("/bookings/{id}/cancel", transitionHandler(func(r *http.Request, id uuid.UUID) (*schedule.Booking, error) {
		return svc.Cancel(r.Context(), id)
	}))

	// Templates and closures
	cal := cfg.Calendar
	r.Post("/recurring-templates", createRecurringTemplateHandler(cal))
	r.Delete("/recurring-templates/{id}", deleteHandler(func(r *http.Request, id uuid.UUID) error {
		return cal.DeleteRecurringTemplate(r.Context(), id)
	}))
	r.Post("/one-off-templates", createOneOffTemplateHandler(cal))
	r.Delete("/one-off-templates/{id}", deleteHandler(func(r *http.Request, id uuid.UUID) error {
		return cal.DeleteOneOffTemplate(r.Context(), id)
	}))
	r.Post("/closures", createClosureHandler(cal))
	r.Delete("/closures/{id}", deleteHandler(func(r *http.Request, id uuid.UUID) error {
		return cal.DeleteClosure(r.Context(), id)
	}))

	return r
}
