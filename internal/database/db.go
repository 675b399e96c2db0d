package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the common surface of *pgxpool.Pool and pgx.Tx, so the same
// Queries type works inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries holds all hand-written SQL for the order core.
type Queries struct {
	db DBTX
}

// New creates Queries bound to a pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
