package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txContextKey struct{}

// DB wraps a pgx pool and carries the active transaction on the context.
type DB struct {
	pool *pgxpool.Pool
}

// Options configures the connection pool.
type Options struct {
	URL      string
	MaxConns int
}

// Open parses the connection string and dials the pool.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("postgres: database url is required")
	}
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrapError("connect", err)
	}
	return &DB{pool: pool}, nil
}

// Pool exposes the underlying pool for collaborators that manage their own statements.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return wrapError("migrate", err)
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return wrapError("ping", d.pool.Ping(ctx))
}

func (d *DB) Close() {
	d.pool.Close()
}

// RunInTx runs fn in a read committed transaction. A nested call joins the outer transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapError("begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		return err
	}
	return wrapError("commit", tx.Commit(ctx))
}

func (d *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return d.pool
}
