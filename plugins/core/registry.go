// ABOUTME: Plugin registry holding descriptors in registration order.
// ABOUTME: Resolves effective configuration and validates writes through the store.

package core

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// LibraryField is the extra payload key required by source plugins.
const LibraryField = "library"

// LibraryOwnership answers whether a user owns a library.
type LibraryOwnership interface {
	OwnsLibrary(ctx context.Context, user string, library uuid.UUID) (bool, error)
}

// Registry holds plugin descriptors. It is populated at startup and read
// concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Descriptor
	order   []string

	store     ConfigStore
	libraries LibraryOwnership
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLibraries sets the ownership check used for source plugins.
func WithLibraries(l LibraryOwnership) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.libraries = l
		}
	}
}

// NewRegistry returns an empty registry backed by store.
func NewRegistry(store ConfigStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		plugins: make(map[string]Descriptor),
		store:   store,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a descriptor. On error the registry is left unchanged.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if err := checkSchema(d.Name, d.Schema); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[d.Name]; exists {
		return &DuplicatePluginError{Name: d.Name}
	}
	r.plugins[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// unregister drops a descriptor. Stored configuration is kept.
func (r *Registry) unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[name]; !ok {
		return
	}
	delete(r.plugins, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
}

// Get retrieves a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.plugins[name]
	if !ok {
		return Descriptor{}, &NotFoundError{Name: name}
	}
	return d, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}

// ListUserVisible returns user-scoped descriptors in registration order.
func (r *Registry) ListUserVisible() []Descriptor {
	all := r.List()
	out := make([]Descriptor, 0, len(all))
	for _, d := range all {
		if d.UserScoped {
			out = append(out, d)
		}
	}
	return out
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// EffectiveConfig resolves one plugin for user (PodScope for the pod).
// Stored values are trusted as already validated.
func (r *Registry) EffectiveConfig(ctx context.Context, name, user string) (EffectiveConfig, error) {
	if _, err := r.Get(name); err != nil {
		return EffectiveConfig{}, err
	}
	confs, err := r.store.EffectiveConfigs(ctx, []string{name}, user)
	if err != nil {
		return EffectiveConfig{}, NewStorageError("load plugin configuration", err)
	}
	return confs[name], nil
}

// EffectiveConfigs resolves every registered plugin for user.
func (r *Registry) EffectiveConfigs(ctx context.Context, user string) (map[string]EffectiveConfig, error) {
	confs, err := r.store.EffectiveConfigs(ctx, r.Names(), user)
	if err != nil {
		return nil, NewStorageError("load plugin configurations", err)
	}
	return confs, nil
}

// SetConfig validates payload against the plugin's schema, persists it for
// user and returns the resulting effective configuration.
func (r *Registry) SetConfig(ctx context.Context, name string, payload map[string]any, user string) (EffectiveConfig, error) {
	d, err := r.Get(name)
	if err != nil {
		return EffectiveConfig{}, err
	}

	conf, err := Validate(name, payload, d.Schema)
	if err != nil {
		return EffectiveConfig{}, err
	}

	if d.Source {
		library, err := r.checkLibrary(ctx, payload[LibraryField], user)
		if err != nil {
			return EffectiveConfig{}, err
		}
		conf[LibraryField] = library.String()
	}

	if err := r.store.Upsert(ctx, name, conf, user); err != nil {
		return EffectiveConfig{}, NewStorageError("save plugin configuration", err)
	}
	return r.EffectiveConfig(ctx, name, user)
}

// Enable sets the enabled flag of a plugin for user.
func (r *Registry) Enable(ctx context.Context, name string, enabled bool, user string) error {
	if _, err := r.Get(name); err != nil {
		return err
	}
	if err := r.store.SetEnabled(ctx, name, enabled, user); err != nil {
		return NewStorageError("update plugin state", err)
	}
	return nil
}

// DeleteConfig removes the user-scoped record of a plugin.
// Pod-level records are never deleted.
func (r *Registry) DeleteConfig(ctx context.Context, name, user string) error {
	if _, err := r.Get(name); err != nil {
		return err
	}
	if user == PodScope {
		return fmt.Errorf("pod configuration of plugin %s cannot be deleted", name)
	}
	if err := r.store.Delete(ctx, name, user); err != nil {
		return NewStorageError("delete plugin configuration", err)
	}
	return nil
}

func (r *Registry) checkLibrary(ctx context.Context, raw any, user string) (uuid.UUID, error) {
	invalid := &ValidationError{Field: LibraryField, Message: "Invalid library id"}

	var id uuid.UUID
	switch v := raw.(type) {
	case uuid.UUID:
		id = v
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, invalid
		}
		id = parsed
	default:
		return uuid.Nil, invalid
	}

	if r.libraries == nil || user == PodScope {
		return uuid.Nil, invalid
	}
	owned, err := r.libraries.OwnsLibrary(ctx, user, id)
	if err != nil {
		return uuid.Nil, NewStorageError("check library ownership", err)
	}
	if !owned {
		return uuid.Nil, invalid
	}
	return id, nil
}
