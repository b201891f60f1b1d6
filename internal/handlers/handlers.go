// Package handlers provides the control API of a running shell.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/12jason0/DoNa-sub000/internal/bridge"
	"github.com/12jason0/DoNa-sub000/internal/config"
)

const maxBodySize = 1 << 20

// Controller is the part of the bridge controller the API drives.
type Controller interface {
	Status() bridge.Status
	HandleDeepLink(ctx context.Context, uri string) bool
	OnBackPressed(ctx context.Context) bool
	Deliver(raw string) bool
	Hub() *bridge.Hub
}

type Handlers struct {
	Ctrl    Controller
	Config  *config.RuntimeConfig
	Version string

	started time.Time
}

func New(ctrl Controller, cfg *config.RuntimeConfig, version string) *Handlers {
	return &Handlers{Ctrl: ctrl, Config: cfg, Version: version, started: time.Now()}
}

// Router builds the API. doShutdown may be nil, which leaves /shutdown out.
func (h *Handlers) Router(doShutdown func()) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return CorsMiddleware(h.Config, next) })
	r.Use(func(next http.Handler) http.Handler { return AuthMiddleware(h.Config, next) })
	r.Use(RateLimitMiddleware)

	r.Get("/health", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	r.Get("/metrics", h.HandleMetrics)
	r.Get("/help", h.HandleHelp)
	r.Get("/events", h.HandleEvents)

	r.Post("/deeplink", h.HandleDeepLink)
	r.Post("/back", h.HandleBack)
	r.Post("/messages", h.HandleMessage)

	if doShutdown != nil {
		r.Post("/shutdown", h.HandleShutdown(doShutdown))
	}
	return r
}
