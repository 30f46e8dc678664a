// ABOUTME: Host bundles the catalog, registry and dispatcher built at startup.
// ABOUTME: It installs compiled-in plugins and fires extension points for a user scope.

package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// HostConfig configures NewHost.
type HostConfig struct {
	Store     ConfigStore
	Libraries LibraryOwnership
	Sink      FailureSink
	Logger    *slog.Logger

	// Disabled turns off every plugin pod-wide; nothing is dispatched.
	Disabled bool

	// Strict makes host dispatches return the first handler failure.
	Strict bool

	HandlerTimeout time.Duration

	// Points are declared in addition to BuiltinPoints.
	Points []ExtensionPoint
}

// Host is the plugin runtime context. It is created once and passed to the
// components that fire extension points.
type Host struct {
	Catalog    *Catalog
	Registry   *Registry
	Dispatcher *Dispatcher

	enabled bool
	strict  bool

	mu     sync.RWMutex
	routes []PluginRoutes
}

// NewHost declares the builtin extension points and returns an empty host.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("plugin host requires a configuration store")
	}

	catalog := NewCatalog()
	for _, p := range slices.Concat(BuiltinPoints, cfg.Points) {
		if err := catalog.Declare(p); err != nil {
			return nil, err
		}
	}

	return &Host{
		Catalog:  catalog,
		Registry: NewRegistry(cfg.Store, WithLibraries(cfg.Libraries)),
		Dispatcher: NewDispatcher(catalog,
			WithLogger(cfg.Logger),
			WithFailureSink(cfg.Sink),
			WithHandlerTimeout(cfg.HandlerTimeout),
		),
		enabled: !cfg.Disabled,
		strict:  cfg.Strict,
	}, nil
}

// Install registers p, connects its handlers and records its routes. When
// connecting fails the plugin is removed again, with any handlers it had
// already connected.
func (h *Host) Install(p Plugin) error {
	d := p.Descriptor()
	if err := h.Registry.Register(d); err != nil {
		return err
	}
	if hp, ok := p.(HookProvider); ok {
		if err := hp.Connect(h.Dispatcher); err != nil {
			h.Dispatcher.Disconnect(d.Name)
			h.Registry.unregister(d.Name)
			return fmt.Errorf("failed to connect plugin %s: %w", d.Name, err)
		}
	}
	if rp, ok := p.(RouteProvider); ok {
		h.mu.Lock()
		h.routes = append(h.routes, PluginRoutes{Name: d.Name, Provider: rp})
		h.mu.Unlock()
	}
	return nil
}

// Routes returns the installed plugins serving HTTP routes, in install order.
func (h *Host) Routes() []PluginRoutes {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.routes)
}

// Enabled reports the pod-wide plugin switch.
func (h *Host) Enabled() bool {
	return h.enabled
}

// Strict reports whether host dispatches surface handler failures.
func (h *Host) Strict() bool {
	return h.strict
}

// Hook fires a hook for user with the user's effective configurations.
func (h *Host) Hook(ctx context.Context, name string, args Args, user string, opts ...DispatchOption) error {
	if !h.enabled {
		return nil
	}
	confs, err := h.Registry.EffectiveConfigs(ctx, user)
	if err != nil {
		return err
	}
	return h.Dispatcher.DispatchHook(ctx, name, args, confs, h.options(opts)...)
}

// Filter threads value through a filter for user. With plugins disabled the
// value is returned untouched.
func (h *Host) Filter(ctx context.Context, name string, value any, args Args, user string, opts ...DispatchOption) (any, error) {
	if !h.enabled {
		return value, nil
	}
	confs, err := h.Registry.EffectiveConfigs(ctx, user)
	if err != nil {
		return value, err
	}
	return h.Dispatcher.DispatchFilter(ctx, name, value, args, confs, h.options(opts)...)
}

func (h *Host) options(opts []DispatchOption) []DispatchOption {
	if !h.strict {
		return opts
	}
	return append([]DispatchOption{Strict()}, opts...)
}
