// ABOUTME: Plugin failure storage operations.
// ABOUTME: Persists handler failures caught during dispatch for later inspection.

package store

import (
	"context"
	"time"

	"github.com/egidijus/funkwhale/plugins/core"
)

// PluginFailure is a stored dispatch failure.
type PluginFailure struct {
	ID             int64     `json:"id"`
	Plugin         string    `json:"plugin"`
	ExtensionPoint string    `json:"extension_point"`
	Error          string    `json:"error"`
	CreatedAt      time.Time `json:"created_at"`
}

// LogFailure inserts a failure record.
func (s *Store) LogFailure(ctx context.Context, f core.Failure) error {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_failures (plugin_name, extension_point, error, created_at)
		VALUES (?, ?, ?, ?)
	`, f.Plugin, f.ExtensionPoint, msg, at.UTC())
	return err
}

// GetRecentFailures returns the most recent failures of a plugin. An empty
// plugin name returns failures of every plugin.
func (s *Store) GetRecentFailures(ctx context.Context, plugin string, limit int) ([]*PluginFailure, error) {
	query := `SELECT id, plugin_name, extension_point, error, created_at FROM plugin_failures`
	args := []any{}
	if plugin != "" {
		query += " WHERE plugin_name = ?"
		args = append(args, plugin)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []*PluginFailure
	for rows.Next() {
		f := &PluginFailure{}
		if err := rows.Scan(&f.ID, &f.Plugin, &f.ExtensionPoint, &f.Error, &f.CreatedAt); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
