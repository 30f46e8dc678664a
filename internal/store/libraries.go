// ABOUTME: Library storage operations.
// ABOUTME: Libraries are owned by a user and referenced by source plugins.

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/egidijus/funkwhale/plugins/core"
)

var _ core.LibraryOwnership = (*Store)(nil)

// Library is a user's collection of uploads.
type Library struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateLibrary inserts a library with a new random id.
func (s *Store) CreateLibrary(ctx context.Context, owner, name string) (*Library, error) {
	lib := &Library{
		ID:        uuid.New(),
		Owner:     owner,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO libraries (id, owner, name, created_at) VALUES (?, ?, ?, ?)
	`, lib.ID.String(), lib.Owner, lib.Name, lib.CreatedAt)
	if err != nil {
		return nil, err
	}
	return lib, nil
}

// ListLibraries returns the libraries of owner, oldest first.
func (s *Store) ListLibraries(ctx context.Context, owner string) ([]*Library, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, created_at FROM libraries WHERE owner = ? ORDER BY created_at, id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var libs []*Library
	for rows.Next() {
		lib := &Library{}
		var id string
		if err := rows.Scan(&id, &lib.Owner, &lib.Name, &lib.CreatedAt); err != nil {
			return nil, err
		}
		if lib.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// OwnsLibrary reports whether library exists and belongs to user.
func (s *Store) OwnsLibrary(ctx context.Context, user string, library uuid.UUID) (bool, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner FROM libraries WHERE id = ?
	`, library.String()).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == user, nil
}
