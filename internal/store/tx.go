package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting the
// terminal-transition and DLQ-insert helpers run either standalone or
// composed inside a shared transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
