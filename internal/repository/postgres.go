// Package repository implements the aggregate repositories on PostgreSQL.
// Every Update runs in one transaction: the aggregate row guarded by the
// optimistic version counter, its append-only children, and the drained
// domain events written to the outbox. Events therefore become visible only
// after the durable write they describe.
package repository

import (
	"context"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/fulfillment/db"
	"github.com/oakmart/fulfillment/internal/events"
	"github.com/oakmart/fulfillment/internal/outbox"
	"github.com/oakmart/fulfillment/pkg/entity"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

// insertEvents wraps drained domain events and appends them to the outbox
// within the caller's transaction.
func insertEvents(ctx context.Context, tx pgx.Tx, drained []entity.Event) error {
	for _, e := range drained {
		env, err := events.Wrap(e)
		if err != nil {
			return err
		}
		if err := outbox.InsertTx(ctx, tx, env); err != nil {
			return err
		}
	}
	return nil
}

// guardUpdate interprets the row count of a version-guarded UPDATE.
func guardUpdate(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return entity.ErrVersionConflict
	}
	return nil
}
