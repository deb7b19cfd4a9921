package store

import (
	"context"
	"database/sql"
	"time"
)

type AttemptStore interface {
	Get(ctx context.Context, identifier string) (*AttemptRecord, error)
	RecordFailure(ctx context.Context, identifier string, now time.Time, threshold int, window time.Duration) (*AttemptRecord, error)
	Reset(ctx context.Context, identifier string) error
	DeleteStale(ctx context.Context, now, idleBefore time.Time) (int64, error)
}

type attemptsStore struct {
	db *sql.DB
}

func NewAttemptsStore(db *sql.DB) AttemptStore {
	return &attemptsStore{db: db}
}

func (s *attemptsStore) Get(ctx context.Context, identifier string) (*AttemptRecord, error) {
	rec := AttemptRecord{Identifier: identifier}
	var locked, updated int64
	err := s.db.QueryRowContext(ctx, `SELECT failures, locked_until, updated_at FROM login_attempts WHERE identifier=?`, identifier).
		Scan(&rec.Failures, &locked, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rec.LockedUntil = fromUnix(locked)
	rec.UpdatedAt = fromUnix(updated)
	return &rec, nil
}

// RecordFailure increments in one statement so concurrent failures for the
// same identifier never lose an update. An expired lock restarts the count,
// and so does an unlocked count whose last failure is older than window.
func (s *attemptsStore) RecordFailure(ctx context.Context, identifier string, now time.Time, threshold int, window time.Duration) (*AttemptRecord, error) {
	ts := now.Unix()
	lockAt := now.Add(window).Unix()
	staleBefore := now.Add(-window).Unix()
	var first int64
	if threshold <= 1 {
		first = lockAt
	}
	rec := AttemptRecord{Identifier: identifier}
	var locked int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO login_attempts(identifier, failures, locked_until, updated_at) VALUES(?, 1, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			failures = CASE
				WHEN login_attempts.locked_until > 0 AND login_attempts.locked_until <= ? THEN 1
				WHEN login_attempts.locked_until = 0 AND login_attempts.updated_at < ? THEN 1
				ELSE login_attempts.failures + 1 END,
			locked_until = CASE
				WHEN login_attempts.locked_until > ? THEN login_attempts.locked_until
				WHEN login_attempts.locked_until > 0 THEN ?
				WHEN login_attempts.updated_at < ? THEN ?
				WHEN login_attempts.failures + 1 >= ? THEN ?
				ELSE 0 END,
			updated_at = ?
		RETURNING failures, locked_until`,
		identifier, first, ts,
		ts, staleBefore,
		ts, first, staleBefore, first, threshold, lockAt,
		ts,
	).Scan(&rec.Failures, &locked)
	if err != nil {
		return nil, err
	}
	rec.LockedUntil = fromUnix(locked)
	return &rec, nil
}

func (s *attemptsStore) Reset(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE identifier=?`, identifier)
	return err
}

// DeleteStale drops rows whose lock has lapsed and unlocked rows idle since idleBefore.
func (s *attemptsStore) DeleteStale(ctx context.Context, now, idleBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM login_attempts
		WHERE (locked_until > 0 AND locked_until <= ?) OR (locked_until = 0 AND updated_at < ?)`,
		now.Unix(), idleBefore.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
