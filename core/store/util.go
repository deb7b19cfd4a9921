package store

import (
	"context"
	"database/sql"
	"time"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullTime(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return ts.UTC()
}

func fromUnix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
