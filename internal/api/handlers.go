// ABOUTME: HTTP handlers for user plugin settings and listening history.
// ABOUTME: Serializes plugins for the caller and fires listening extension points.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/egidijus/funkwhale/internal/auth"
	apierrors "github.com/egidijus/funkwhale/internal/errors"
	"github.com/egidijus/funkwhale/internal/history"
	"github.com/egidijus/funkwhale/plugins/core"
)

// ListeningStore persists listening history.
type ListeningStore interface {
	CreateListening(ctx context.Context, l *history.Listening) error
	ListListenings(ctx context.Context, user string, limit int) ([]*history.Listening, error)
}

type Handlers struct {
	host       *core.Host
	listenings ListeningStore
	libraries  core.LibraryOwnership
	logger     *slog.Logger
}

func NewHandlers(host *core.Host, listenings ListeningStore, libraries core.LibraryOwnership, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{host: host, listenings: listenings, libraries: libraries, logger: logger}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/plugins", func(r chi.Router) {
		r.Get("/", h.listPlugins)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.getPlugin)
			r.Post("/", h.setPluginConfig)
			r.Delete("/", h.deletePluginConfig)
			r.Post("/enable", h.enablePlugin(true))
			r.Post("/disable", h.enablePlugin(false))
			r.Post("/scan", h.scan)
		})
	})
	r.Route("/api/v1/history", func(r chi.Router) {
		r.Get("/listenings", h.listListenings)
		r.Post("/listenings", h.createListening)
		r.Post("/now-playing", h.nowPlaying)
	})
}

// MountPluginRoutes mounts the routes of every installed RouteProvider under
// /plugins/{name}.
func (h *Handlers) MountPluginRoutes(r chi.Router) {
	for _, pr := range h.host.Routes() {
		r.Route("/plugins/"+pr.Name, func(r chi.Router) {
			r.Use(h.requireEnabled(pr.Name))
			pr.Provider.RegisterRoutes(r)
		})
	}
}

// requireEnabled answers 404 unless plugin is enabled for the caller, at pod
// scope for pod-only plugins. The effective configuration is passed on in
// the request context.
func (h *Handlers) requireEnabled(plugin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			notFound := func() {
				apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrNotFound, "Plugin "+plugin+" is not enabled")
			}
			if !h.host.Enabled() {
				notFound()
				return
			}
			d, err := h.host.Registry.Get(plugin)
			if err != nil {
				apierrors.WriteCoreError(w, err)
				return
			}

			scope := core.PodScope
			if d.UserScoped {
				scope = auth.UserFromContext(r.Context())
			}
			conf, err := h.host.Registry.EffectiveConfig(r.Context(), plugin, scope)
			if err != nil {
				apierrors.WriteCoreError(w, err)
				return
			}
			if !conf.Enabled {
				notFound()
				return
			}
			next.ServeHTTP(w, r.WithContext(core.ContextWithConfig(r.Context(), conf)))
		})
	}
}

func (h *Handlers) listPlugins(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	confs, err := h.host.Registry.EffectiveConfigs(r.Context(), user)
	if err != nil {
		apierrors.WriteCoreError(w, err)
		return
	}

	views := []core.PluginView{}
	for _, d := range h.host.Registry.ListUserVisible() {
		views = append(views, core.Serialize(d, confs))
	}
	writeJSON(w, http.StatusOK, views)
}

// userPlugin resolves the {name} parameter to a user-scoped plugin.
// Pod-only plugins are reported as not found.
func (h *Handlers) userPlugin(w http.ResponseWriter, r *http.Request) (core.Descriptor, bool) {
	name := chi.URLParam(r, "name")
	d, err := h.host.Registry.Get(name)
	if err == nil && !d.UserScoped {
		err = &core.NotFoundError{Name: name}
	}
	if err != nil {
		apierrors.WriteCoreError(w, err)
		return core.Descriptor{}, false
	}
	return d, true
}

func (h *Handlers) servePlugin(w http.ResponseWriter, r *http.Request, d core.Descriptor) {
	user := auth.UserFromContext(r.Context())
	confs, err := h.host.Registry.EffectiveConfigs(r.Context(), user)
	if err != nil {
		apierrors.WriteCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, core.Serialize(d, confs))
}

func (h *Handlers) getPlugin(w http.ResponseWriter, r *http.Request) {
	d, ok := h.userPlugin(w, r)
	if !ok {
		return
	}
	h.servePlugin(w, r, d)
}

func (h *Handlers) setPluginConfig(w http.ResponseWriter, r *http.Request) {
	d, ok := h.userPlugin(w, r)
	if !ok {
		return
	}

	var payload map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidBody, "Request body must be a JSON object")
		return
	}

	user := auth.UserFromContext(r.Context())
	if _, err := h.host.Registry.SetConfig(r.Context(), d.Name, payload, user); err != nil {
		apierrors.WriteCoreError(w, err)
		return
	}
	h.servePlugin(w, r, d)
}

func (h *Handlers) deletePluginConfig(w http.ResponseWriter, r *http.Request) {
	d, ok := h.userPlugin(w, r)
	if !ok {
		return
	}
	user := auth.UserFromContext(r.Context())
	if err := h.host.Registry.DeleteConfig(r.Context(), d.Name, user); err != nil {
		apierrors.WriteCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) enablePlugin(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := h.userPlugin(w, r)
		if !ok {
			return
		}
		user := auth.UserFromContext(r.Context())
		if err := h.host.Registry.Enable(r.Context(), d.Name, enabled, user); err != nil {
			apierrors.WriteCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

// scan runs the plugin's scan handler against the library it is
// configured with. The handler is called directly so its error reaches
// the caller.
func (h *Handlers) scan(w http.ResponseWriter, r *http.Request) {
	d, ok := h.userPlugin(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	user := auth.UserFromContext(ctx)

	conf, err := h.host.Registry.EffectiveConfig(ctx, d.Name, user)
	if err != nil {
		apierrors.WriteCoreError(w, err)
		return
	}
	hooks := h.host.Dispatcher.Hooks(core.Scan, d.Name)
	if !conf.Enabled || len(hooks) == 0 {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, apierrors.ErrMethodNotAllowed, "Plugin cannot scan")
		return
	}

	raw, _ := conf.Conf[core.LibraryField].(string)
	library, err := uuid.Parse(raw)
	if err == nil && h.libraries != nil {
		var owned bool
		owned, err = h.libraries.OwnsLibrary(ctx, user, library)
		if err == nil && !owned {
			err = errors.New("library not owned")
		}
	}
	if err != nil {
		apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrValidationFailed, "Invalid library id", core.LibraryField)
		return
	}

	if err := hooks[0](ctx, conf.Conf, core.Args{"library": library}); err != nil {
		h.logger.ErrorContext(ctx, "scan failed", "plugin", d.Name, "library", library, "error", err)
		apierrors.WriteErrorWithDetails(w, http.StatusBadGateway, apierrors.ErrServiceUnavailable, "Scan failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

type listeningRequest struct {
	Track     history.Track `json:"track"`
	CreatedAt *time.Time    `json:"created_at"`
}

func (h *Handlers) createListening(w http.ResponseWriter, r *http.Request) {
	var req listeningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidBody, "Invalid listening payload")
		return
	}
	if req.Track.Title == "" || req.Track.Artist == "" {
		apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrMissingField, "Track title and artist are required", "track")
		return
	}

	ctx := r.Context()
	l := &history.Listening{
		User:      auth.UserFromContext(ctx),
		Track:     req.Track,
		CreatedAt: time.Now().UTC(),
	}
	if req.CreatedAt != nil {
		l.CreatedAt = req.CreatedAt.UTC()
	}

	if h.listenings != nil {
		if err := h.listenings.CreateListening(ctx, l); err != nil {
			h.logger.ErrorContext(ctx, "failed to store listening", "user", l.User, "error", err)
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "Failed to store listening")
			return
		}
	}

	// The listening is stored at this point. Only a strict host reports
	// dispatch errors to the client.
	if err := h.host.Hook(ctx, core.ListeningCreated, core.Args{"listening": *l}, l.User); err != nil {
		if h.host.Strict() {
			apierrors.WriteCoreError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "failed to dispatch listening", "user", l.User, "listening", l.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *Handlers) nowPlaying(w http.ResponseWriter, r *http.Request) {
	var req listeningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidBody, "Invalid track payload")
		return
	}

	ctx := r.Context()
	user := auth.UserFromContext(ctx)
	if err := h.host.Hook(ctx, core.ListeningNow, core.Args{"track": req.Track, "user": user}, user); err != nil {
		apierrors.WriteCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listListenings(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "limit must be a positive integer", "limit")
			return
		}
		limit = n
	}

	listenings := []*history.Listening{}
	if h.listenings != nil {
		var err error
		listenings, err = h.listenings.ListListenings(r.Context(), auth.UserFromContext(r.Context()), limit)
		if err != nil {
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "Failed to load listenings")
			return
		}
		if listenings == nil {
			listenings = []*history.Listening{}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": listenings})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
