// ABOUTME: Plugin configuration storage implementing core.ConfigStore.
// ABOUTME: Rows are keyed by plugin name and user; the pod row has an empty user.

package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/egidijus/funkwhale/plugins/core"
)

var _ core.ConfigStore = (*Store)(nil)

// EffectiveConfigs loads pod and user rows for names in one query and
// resolves them.
func (s *Store) EffectiveConfigs(ctx context.Context, names []string, user string) (map[string]core.EffectiveConfig, error) {
	if len(names) == 0 {
		return map[string]core.EffectiveConfig{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	query := `SELECT plugin_name, user_id, enabled, config
	          FROM plugin_configurations
	          WHERE plugin_name IN (` + placeholders + `) AND user_id IN (?, ?)`
	args := make([]any, 0, len(names)+2)
	for _, name := range names {
		args = append(args, name)
	}
	args = append(args, core.PodScope, user)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewStorageError("query plugin configurations", err)
	}
	defer rows.Close()

	pod := make(map[string]core.EffectiveConfig)
	scoped := make(map[string]core.EffectiveConfig)
	for rows.Next() {
		var name, owner string
		var enabled bool
		var raw sql.NullString
		if err := rows.Scan(&name, &owner, &enabled, &raw); err != nil {
			return nil, core.NewStorageError("scan plugin configuration", err)
		}
		conf, err := decodeConf(raw)
		if err != nil {
			return nil, core.NewStorageError("decode plugin configuration", err)
		}
		rec := core.EffectiveConfig{Conf: conf, Enabled: enabled}
		if owner == core.PodScope {
			pod[name] = rec
		} else {
			scoped[name] = rec
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("query plugin configurations", err)
	}

	if user == core.PodScope {
		scoped = nil
	}
	return core.Resolve(names, pod, scoped), nil
}

// Upsert replaces the config of a row, creating it disabled when missing.
func (s *Store) Upsert(ctx context.Context, plugin string, conf map[string]any, user string) error {
	raw, err := encodeConf(conf)
	if err != nil {
		return core.NewStorageError("encode plugin configuration", err)
	}

	query := `INSERT INTO plugin_configurations (plugin_name, user_id, config) VALUES (?, ?, ?)
	          ON CONFLICT (plugin_name, user_id) DO UPDATE SET config = excluded.config, updated_at = CURRENT_TIMESTAMP`
	if s.driver == DriverMySQL {
		query = `INSERT INTO plugin_configurations (plugin_name, user_id, config) VALUES (?, ?, ?)
		         ON DUPLICATE KEY UPDATE config = VALUES(config), updated_at = CURRENT_TIMESTAMP`
	}

	if _, err := s.db.ExecContext(ctx, query, plugin, user, raw); err != nil {
		return core.NewStorageError("save plugin configuration", err)
	}
	return nil
}

// SetEnabled flips the enabled flag of a row, creating it without config when
// missing.
func (s *Store) SetEnabled(ctx context.Context, plugin string, enabled bool, user string) error {
	query := `INSERT INTO plugin_configurations (plugin_name, user_id, enabled) VALUES (?, ?, ?)
	          ON CONFLICT (plugin_name, user_id) DO UPDATE SET enabled = excluded.enabled, updated_at = CURRENT_TIMESTAMP`
	if s.driver == DriverMySQL {
		query = `INSERT INTO plugin_configurations (plugin_name, user_id, enabled) VALUES (?, ?, ?)
		         ON DUPLICATE KEY UPDATE enabled = VALUES(enabled), updated_at = CURRENT_TIMESTAMP`
	}

	if _, err := s.db.ExecContext(ctx, query, plugin, user, enabled); err != nil {
		return core.NewStorageError("update plugin state", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, plugin string, user string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM plugin_configurations WHERE plugin_name = ? AND user_id = ?
	`, plugin, user)
	if err != nil {
		return core.NewStorageError("delete plugin configuration", err)
	}
	return nil
}

func encodeConf(conf map[string]any) (sql.NullString, error) {
	if conf == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(conf)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeConf restores integers as int so values read back match what the
// validator produced.
func decodeConf(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw.String)))
	dec.UseNumber()

	var conf map[string]any
	if err := dec.Decode(&conf); err != nil {
		return nil, err
	}
	for k, v := range conf {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			conf[k] = int(i)
		} else if f, err := n.Float64(); err == nil {
			conf[k] = f
		}
	}
	return conf, nil
}
