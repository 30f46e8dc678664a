// ABOUTME: HTTP handlers for the pod plugin admin pages.
// ABOUTME: Lists installed plugins and edits their pod-wide settings through HTML forms.

package admin

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/egidijus/funkwhale/plugins/core"
)

type Handlers struct {
	registry *core.Registry
	logger   *slog.Logger
}

func NewHandlers(registry *core.Registry, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{registry: registry, logger: logger}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/", h.dashboard)
		r.Get("/plugins/{name}", h.pluginForm)
		r.Post("/plugins/{name}", h.pluginSave)
		r.Post("/plugins/{name}/enable", h.pluginToggle(true))
		r.Post("/plugins/{name}/disable", h.pluginToggle(false))
	})
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	confs, err := h.registry.EffectiveConfigs(r.Context(), core.PodScope)
	if err != nil {
		h.fail(w, err)
		return
	}

	views := make([]core.PluginView, 0, len(confs))
	for _, d := range h.registry.List() {
		views = append(views, core.Serialize(d, confs))
	}

	w.Header().Set("Content-Type", "text/html")
	renderPage(w, pageData{
		Title:    "Plugins",
		Sections: []template.HTML{template.HTML(RenderPluginTable(views))},
	})
}

func (h *Handlers) pluginForm(w http.ResponseWriter, r *http.Request) {
	d, err := h.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.renderPlugin(w, r, d, http.StatusOK, nil)
}

func (h *Handlers) renderPlugin(w http.ResponseWriter, r *http.Request, d core.Descriptor, status int, fieldErr *core.ConfigError) {
	confs, err := h.registry.EffectiveConfigs(r.Context(), core.PodScope)
	if err != nil {
		h.fail(w, err)
		return
	}
	view := core.Serialize(d, confs)

	sections := []template.HTML{template.HTML(RenderToggle(view))}
	if d.Source {
		// Source plugins are bound to a user library and have no pod settings.
		sections = append(sections, template.HTML(`<p class="text-sm text-gray-600">Settings of this plugin are managed by each user.</p>`))
	} else if len(view.Conf) > 0 {
		sections = append(sections, template.HTML(RenderSettingsForm(view, fieldErr)))
	}

	data := pageData{
		Title:       view.Label,
		Description: view.Description,
		Sections:    sections,
	}
	if fieldErr != nil {
		data.Flash = fieldErr.Error()
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	renderPage(w, data)
}

func (h *Handlers) pluginSave(w http.ResponseWriter, r *http.Request) {
	d, err := h.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if d.Source {
		http.Error(w, "Source plugins have no pod settings", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	current, err := h.registry.EffectiveConfig(r.Context(), d.Name, core.PodScope)
	if err != nil {
		h.fail(w, err)
		return
	}

	payload := FormPayload(d.Schema, r.PostForm, current.Conf)
	if _, err := h.registry.SetConfig(r.Context(), d.Name, payload, core.PodScope); err != nil {
		var configErr *core.ConfigError
		if errors.As(err, &configErr) {
			h.renderPlugin(w, r, d, http.StatusBadRequest, configErr)
			return
		}
		h.fail(w, err)
		return
	}

	h.logger.Info("pod plugin settings updated", "plugin", d.Name)
	http.Redirect(w, r, "/admin/plugins/"+d.Name, http.StatusSeeOther)
}

func (h *Handlers) pluginToggle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := h.registry.Enable(r.Context(), name, enabled, core.PodScope); err != nil {
			h.fail(w, err)
			return
		}
		h.logger.Info("pod plugin state changed", "plugin", name, "enabled", enabled)
		http.Redirect(w, r, "/admin/plugins/"+name, http.StatusSeeOther)
	}
}

func (h *Handlers) fail(w http.ResponseWriter, err error) {
	var notFound *core.NotFoundError
	if errors.As(err, &notFound) {
		http.Error(w, notFound.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error("admin request failed", "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, core.ErrStorage) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, fmt.Sprintf("%s: plugin settings are unavailable", http.StatusText(status)), status)
}

// FormPayload turns a submitted settings form into a validation payload.
// Unchecked checkboxes submit nothing, so boolean fields default to false.
// Blank inputs are omitted so defaults apply, except blank passwords which
// keep the stored secret.
func FormPayload(schema []core.FieldSpec, form map[string][]string, current map[string]any) map[string]any {
	payload := make(map[string]any, len(schema))
	for _, field := range schema {
		values := form[field.Name]
		value := ""
		if len(values) > 0 {
			value = values[0]
		}

		switch {
		case field.Type == core.FieldBoolean:
			payload[field.Name] = value != ""
		case value != "":
			payload[field.Name] = value
		case field.Type == core.FieldPassword && current[field.Name] != nil:
			payload[field.Name] = current[field.Name]
		case field.AllowBlank:
			payload[field.Name] = ""
		}
	}
	return payload
}
