// ABOUTME: Configuration store contract and an in-memory implementation.
// ABOUTME: Records are keyed by plugin name and scope (pod when user is empty).

package core

import (
	"context"
	"maps"
	"sync"
)

// PodScope is the user value addressing pod-level records.
const PodScope = ""

// EffectiveConfig is the resolved state of a plugin for one scope.
// A nil Conf means no configuration was ever stored.
type EffectiveConfig struct {
	Conf    map[string]any `json:"conf"`
	Enabled bool           `json:"enabled"`
}

// ConfigStore persists plugin configuration records. Implementations must
// make each call atomic and wrap failures with NewStorageError.
type ConfigStore interface {
	// EffectiveConfigs resolves every name. A user record, when present,
	// replaces the pod record as a whole. Names without records resolve to
	// the zero EffectiveConfig.
	EffectiveConfigs(ctx context.Context, names []string, user string) (map[string]EffectiveConfig, error)
	Upsert(ctx context.Context, plugin string, conf map[string]any, user string) error
	SetEnabled(ctx context.Context, plugin string, enabled bool, user string) error
	Delete(ctx context.Context, plugin string, user string) error
}

// Resolve applies the pod/user override rule to raw records. It is shared by
// store implementations that fetch both scopes and merge in Go.
func Resolve(names []string, pod, user map[string]EffectiveConfig) map[string]EffectiveConfig {
	out := make(map[string]EffectiveConfig, len(names))
	for _, name := range names {
		if rec, ok := user[name]; ok {
			out[name] = rec
			continue
		}
		out[name] = pod[name]
	}
	return out
}

type recordKey struct {
	plugin string
	user   string
}

// MemoryStore is a ConfigStore held in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]EffectiveConfig
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]EffectiveConfig)}
}

func (s *MemoryStore) EffectiveConfigs(ctx context.Context, names []string, user string) (map[string]EffectiveConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pod := make(map[string]EffectiveConfig)
	scoped := make(map[string]EffectiveConfig)
	for _, name := range names {
		if rec, ok := s.records[recordKey{name, PodScope}]; ok {
			pod[name] = copyRecord(rec)
		}
		if user == PodScope {
			continue
		}
		if rec, ok := s.records[recordKey{name, user}]; ok {
			scoped[name] = copyRecord(rec)
		}
	}
	return Resolve(names, pod, scoped), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, plugin string, conf map[string]any, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{plugin, user}
	rec := s.records[key]
	rec.Conf = maps.Clone(conf)
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) SetEnabled(ctx context.Context, plugin string, enabled bool, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{plugin, user}
	rec := s.records[key]
	rec.Enabled = enabled
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, plugin string, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, recordKey{plugin, user})
	return nil
}

func copyRecord(rec EffectiveConfig) EffectiveConfig {
	return EffectiveConfig{Conf: maps.Clone(rec.Conf), Enabled: rec.Enabled}
}
