package store

import (
	"context"
	"database/sql"
	"time"
)

type SessionStore interface {
	Save(ctx context.Context, sess *SessionRecord) error
	Get(ctx context.Context, id string) (*SessionRecord, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteForAdmin(ctx context.Context, adminID int64) (int64, error)
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
	ListForAdmin(ctx context.Context, adminID int64) ([]SessionRecord, error)
}

type sessionsStore struct {
	db *sql.DB
}

func NewSessionsStore(db *sql.DB) SessionStore {
	return &sessionsStore{db: db}
}

const sessionColumns = `id, admin_id, username, full_name, role, avatar, ip, user_agent, created_at, last_activity`

func (s *sessionsStore) Save(ctx context.Context, sess *SessionRecord) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = nowUTC()
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = sess.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(`+sessionColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET last_activity=excluded.last_activity, ip=excluded.ip, user_agent=excluded.user_agent`,
		sess.ID, sess.AdminID, sess.Username, sess.FullName, sess.Role, sess.Avatar, sess.IP, sess.UserAgent,
		sess.CreatedAt.Unix(), sess.LastActivity.Unix())
	return err
}

// Get does not judge expiry; the session manager owns that rule.
func (s *sessionsStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id)
	sr, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sr, err
}

func scanSession(scan func(dest ...any) error) (*SessionRecord, error) {
	var sr SessionRecord
	var created, last int64
	if err := scan(&sr.ID, &sr.AdminID, &sr.Username, &sr.FullName, &sr.Role, &sr.Avatar, &sr.IP, &sr.UserAgent, &created, &last); err != nil {
		return nil, err
	}
	sr.CreatedAt = fromUnix(created)
	sr.LastActivity = fromUnix(last)
	return &sr, nil
}

func (s *sessionsStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity=? WHERE id=?`, at.Unix(), id)
	return err
}

func (s *sessionsStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

func (s *sessionsStore) DeleteForAdmin(ctx context.Context, adminID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE admin_id=?`, adminID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionsStore) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionsStore) ListForAdmin(ctx context.Context, adminID int64) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE admin_id=? ORDER BY last_activity DESC`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SessionRecord
	for rows.Next() {
		sr, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, *sr)
	}
	return res, rows.Err()
}
