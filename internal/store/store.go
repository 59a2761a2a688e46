// Package store persists client preferences that must survive restarts,
// currently the last table selected per profile.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// Store wraps DB access.
type Store struct {
	Pool *pgxpool.Pool
}

func New(dsn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// LastSelectedTable returns the table the profile last opened, if any.
func (s *Store) LastSelectedTable(ctx context.Context, profile string) (int64, bool, error) {
	var tableID int64
	err := s.Pool.QueryRow(ctx,
		`SELECT table_id FROM client_selection WHERE profile = $1`, profile,
	).Scan(&tableID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return tableID, true, nil
}

func (s *Store) SaveSelectedTable(ctx context.Context, profile string, tableID int64) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO client_selection (profile, table_id, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (profile) DO UPDATE
SET table_id = EXCLUDED.table_id, updated_at = EXCLUDED.updated_at`,
		profile, tableID)
	return err
}

// ClearSelectedTable forgets the selection of a profile. Missing rows
// report ErrNotFound.
func (s *Store) ClearSelectedTable(ctx context.Context, profile string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM client_selection WHERE profile = $1`, profile)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
