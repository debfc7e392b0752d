// Package store is the Postgres-backed persistence layer for every
// component named in §3: users, the committed sync log, the staging area,
// the server_seq allocator, attachment refs, and key bundles.
package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a pgxpool.Pool. Every multi-step mutation (push batch,
// commit_staged_attachment, ghost GC) is driven through Store.WithTx so it
// runs inside a single ACID transaction, per §4.1 and §5.
type Store struct {
	Pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// Migrate applies the embedded schema. It is idempotent (CREATE TABLE IF
// NOT EXISTS) so it is safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Querier is satisfied by both pgxpool.Pool and pgx.Tx, letting repository
// methods run either standalone (pull, the sweeper) or inside a caller's
// transaction (push, commit_staged, ghost GC).
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn inside a serializable transaction, committing on success
// and rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(ctx, tx)
	return err
}

var ErrNoRows = pgx.ErrNoRows
