// Package warehouse is the Postgres side of the pipeline: schema management,
// entity resolution, and transactional batch loading.
package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store wraps the connection pool. It is constructed once in main and passed
// down explicitly; nothing in this package holds global connection state.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to the warehouse and verifies the connection.
func New(ctx context.Context, connString string, maxConns int32, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse conn string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{pool: pool, log: log}, nil
}

// Pool exposes the underlying pool for read-only query surfaces.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema applies the warehouse DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info().Msg("warehouse schema ensured")
	return nil
}
