// Package httpapi is the JSON HTTP surface of the evalauth service.
package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrEthical07/evalauth"
	"github.com/MrEthical07/evalauth/middleware"
)

type Options struct {
	Engine         *evalauth.Engine
	Identities     evalauth.IdentityProvider
	Logger         *slog.Logger
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

type handler struct {
	engine     *evalauth.Engine
	identities evalauth.IdentityProvider
	logger     *slog.Logger
}

func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := &handler{engine: opts.Engine, identities: opts.Identities, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestInfo)

	r.Get("/healthz", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(opts.Engine))
			r.Get("/me", h.me)
			r.With(middleware.Require(opts.Engine, ownerOrAdmin)).Get("/identities/{id}", h.identity)
		})
	})
	return r
}

func ownerOrAdmin(r *http.Request) evalauth.Capability {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return evalauth.AnyOf(evalauth.RequireOwner(id), evalauth.RequireRole("admin"))
}
