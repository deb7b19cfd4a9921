package store

import (
	"context"
	"database/sql"
	"time"
)

type CSRFStore interface {
	Get(ctx context.Context, bindingID string) (*CSRFToken, error)
	Save(ctx context.Context, tok *CSRFToken) error
	Delete(ctx context.Context, bindingID string) error
	Consume(ctx context.Context, bindingID, token string) (bool, error)
	DeleteIssuedBefore(ctx context.Context, before time.Time) (int64, error)
}

type csrfStore struct {
	db *sql.DB
}

func NewCSRFStore(db *sql.DB) CSRFStore {
	return &csrfStore{db: db}
}

func (s *csrfStore) Get(ctx context.Context, bindingID string) (*CSRFToken, error) {
	var tok CSRFToken
	var issued int64
	err := s.db.QueryRowContext(ctx, `SELECT binding_id, token, issued_at FROM csrf_tokens WHERE binding_id=?`, bindingID).
		Scan(&tok.BindingID, &tok.Token, &issued)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	tok.IssuedAt = fromUnix(issued)
	return &tok, nil
}

// Save replaces any token previously bound to the same id.
func (s *csrfStore) Save(ctx context.Context, tok *CSRFToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO csrf_tokens(binding_id, token, issued_at) VALUES(?,?,?)
		ON CONFLICT(binding_id) DO UPDATE SET token=excluded.token, issued_at=excluded.issued_at`,
		tok.BindingID, tok.Token, tok.IssuedAt.Unix())
	return err
}

func (s *csrfStore) Delete(ctx context.Context, bindingID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM csrf_tokens WHERE binding_id=?`, bindingID)
	return err
}

// Consume deletes the token only if it is still the one bound to the id.
// Exactly one of two concurrent callers gets true.
func (s *csrfStore) Consume(ctx context.Context, bindingID, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM csrf_tokens WHERE binding_id=? AND token=?`, bindingID, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *csrfStore) DeleteIssuedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM csrf_tokens WHERE issued_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
