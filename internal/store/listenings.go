// ABOUTME: Listening history storage operations.
// ABOUTME: Track metadata is stored as JSON alongside the user and play time.

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/egidijus/funkwhale/internal/history"
)

// CreateListening inserts l and sets its ID. A zero CreatedAt is set to now.
func (s *Store) CreateListening(ctx context.Context, l *history.Listening) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	l.CreatedAt = l.CreatedAt.UTC()

	track, err := json.Marshal(l.Track)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO listenings (user_id, track, created_at) VALUES (?, ?, ?)
	`, l.User, string(track), l.CreatedAt)
	if err != nil {
		return err
	}
	l.ID, err = res.LastInsertId()
	return err
}

// ListListenings returns the most recent listenings of user.
func (s *Store) ListListenings(ctx context.Context, user string, limit int) ([]*history.Listening, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, track, created_at
		FROM listenings
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*history.Listening
	for rows.Next() {
		l := &history.Listening{}
		var track string
		if err := rows.Scan(&l.ID, &l.User, &track, &l.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(track), &l.Track); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
