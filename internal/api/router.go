// ABOUTME: Router assembly for the plugin API server.
// ABOUTME: Applies access logging, recovery, authentication and request log persistence.

package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/egidijus/funkwhale/internal/admin"
	"github.com/egidijus/funkwhale/internal/auth"
	"github.com/egidijus/funkwhale/internal/logging"
)

type routerOptions struct {
	admin  *admin.Handlers
	admins []string
}

type RouterOption func(*routerOptions)

// WithAdmin mounts the pod admin pages, reachable only by the listed users.
func WithAdmin(h *admin.Handlers, admins []string) RouterOption {
	return func(o *routerOptions) {
		o.admin = h
		o.admins = admins
	}
}

// NewRouter mounts h behind authentication. Request logs are stored
// through rl when it is non-nil.
func NewRouter(h *Handlers, rl logging.RequestLogger, logger *slog.Logger, opts ...RouterOption) http.Handler {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(auth.Middleware)
	if rl != nil {
		r.Use(logging.Middleware(rl, logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)
		h.RegisterRoutes(r)
		h.MountPluginRoutes(r)
	})

	if o.admin != nil {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(o.admins))
			o.admin.RegisterRoutes(r)
		})
	}
	return r
}
