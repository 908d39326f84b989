package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterConfig collects what NewRouter mounts.
type RouterConfig struct {
	Events    *EventHandler
	Users     *UserHandler
	Metrics   http.Handler
	JWTSecret string
	Log       *zap.Logger
}

// NewRouter builds the chi router with the global middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(cfg.Log))
	r.Use(CORS())
	r.Use(Authenticate(cfg.JWTSecret))

	r.Get("/health", HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/users", func(r chi.Router) {
		r.Post("/", cfg.Users.CreateUser)
		r.Get("/{id}", cfg.Users.GetUser)
	})

	r.Route("/events", func(r chi.Router) {
		r.Get("/", cfg.Events.ListEvents)
		r.Get("/{id}", cfg.Events.GetEvent)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/", cfg.Events.CreateEvent)
			r.Post("/{id}/subscribers", cfg.Events.CreateSubscription)
			r.Delete("/{id}/subscribers/leave", cfg.Events.LeaveSubscription)
			r.Delete("/{id}/subscribers/kick", cfg.Events.KickSubscriber)
			r.Post("/{id}/members", cfg.Events.CreateMember)
			r.Delete("/{id}/members/leave", cfg.Events.LeaveMember)
			r.Delete("/{id}/members/kick", cfg.Events.KickMember)
		})
	})

	return r
}
