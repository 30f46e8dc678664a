// ABOUTME: Plugin descriptors and the capability interfaces plugins implement.
// ABOUTME: A plugin describes itself and optionally connects handlers or HTTP routes.

package core

import (
	"context"

	"github.com/go-chi/chi/v5"
)

// Descriptor is the static identity of a plugin.
type Descriptor struct {
	// Name is unique; it keys configuration records and scopes logs.
	Name        string
	Label       string
	Description string
	Version     string
	Schema      []FieldSpec

	// UserScoped plugins can be enabled and configured by each user.
	// Others are pod-admin only.
	UserScoped bool

	// Source plugins additionally require a "library" owned by the user.
	Source bool
}

// DisplayLabel returns Label, falling back to Name.
func (d Descriptor) DisplayLabel() string {
	if d.Label == "" {
		return d.Name
	}
	return d.Label
}

// Plugin is implemented by every plugin.
type Plugin interface {
	Descriptor() Descriptor
}

// HookProvider is implemented by plugins that attach handlers.
type HookProvider interface {
	Connect(d *Dispatcher) error
}

// RouteProvider is implemented by plugins serving their own HTTP endpoints.
// Routes are mounted under /plugins/{name} and answer only while the plugin
// is enabled for the caller.
type RouteProvider interface {
	RegisterRoutes(r chi.Router)
}

// PluginRoutes pairs an installed plugin with its routes.
type PluginRoutes struct {
	Name     string
	Provider RouteProvider
}

type confContextKey struct{}

// ContextWithConfig attaches the caller's effective configuration of a plugin
// to ctx for its route handlers.
func ContextWithConfig(ctx context.Context, conf EffectiveConfig) context.Context {
	return context.WithValue(ctx, confContextKey{}, conf)
}

// ConfigFromContext returns the configuration set by ContextWithConfig.
func ConfigFromContext(ctx context.Context) (EffectiveConfig, bool) {
	conf, ok := ctx.Value(confContextKey{}).(EffectiveConfig)
	return conf, ok
}

// Args are the named arguments passed to handlers.
type Args map[string]any
