// Package db is a thin, hand-written query layer over pgx in the style of
// sqlc-generated code: a DBTX interface that either a pool connection or a
// transaction can satisfy, and a Queries struct whose methods each wrap one
// SQL statement.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx, so callers
// can run queries either directly against the pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the generated-style query handle bound to one DBTX.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to the given connection or transaction.
func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// WithTx returns a copy of q bound to tx, for use inside a unit of work.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// scannable is satisfied by both pgx.Row and pgx.Rows, letting row-mapping
// helpers work whether the caller is iterating a result set or reading a
// single RETURNING row.
type scannable interface {
	Scan(dest ...any) error
}
