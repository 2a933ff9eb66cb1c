package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meshpatch/internal/identity"
)

var _ identity.Tracker = (*Store)(nil)

// Binding returns the tracked binding for ref, or nil.
func (s *Store) Binding(ctx context.Context, ref identity.Ref) (*identity.Binding, error) {
	var b identity.Binding
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT ref, path, owner FROM identity_bindings WHERE ref = ?`, string(ref),
	).Scan(&raw, &b.Path, &b.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get binding: %w", err)
	}
	b.Ref = identity.Ref(raw)
	return &b, nil
}

// Bind records or moves a binding.
func (s *Store) Bind(ctx context.Context, b identity.Binding) error {
	_, err := s.exec(ctx,
		`INSERT INTO identity_bindings (ref, path, owner, bound_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(ref) DO UPDATE SET path = excluded.path, owner = excluded.owner, bound_at = excluded.bound_at`,
		string(b.Ref), b.Path, b.Owner, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("bind identity: %w", err)
	}
	return nil
}

// Unbind releases ref if it is still bound to path.
func (s *Store) Unbind(ctx context.Context, ref identity.Ref, path string) error {
	_, err := s.exec(ctx,
		`DELETE FROM identity_bindings WHERE ref = ? AND path = ?`, string(ref), path)
	if err != nil {
		return fmt.Errorf("unbind identity: %w", err)
	}
	return nil
}
