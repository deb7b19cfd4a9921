package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type AccountsStore interface {
	FindActiveByHandle(ctx context.Context, handle string) (*Admin, error)
	FindByUsername(ctx context.Context, username string) (*Admin, error)
	Get(ctx context.Context, id int64) (*Admin, error)
	Create(ctx context.Context, a *Admin) (int64, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) error
	SetActive(ctx context.Context, id int64, active bool) error
	CountByRole(ctx context.Context, role string) (int, error)
	List(ctx context.Context) ([]Admin, error)
}

type accountsStore struct {
	db *sql.DB
}

func NewAccountsStore(db *sql.DB) AccountsStore {
	return &accountsStore{db: db}
}

const adminColumns = `id, username, email, full_name, role, avatar, password_hash, must_change_password, is_active, last_login_at, created_at, updated_at`

// FindActiveByHandle matches username or email case-insensitively; handles are stored lower-case.
func (s *accountsStore) FindActiveByHandle(ctx context.Context, handle string) (*Admin, error) {
	h := strings.ToLower(strings.TrimSpace(handle))
	if h == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE (username=? OR email=?) AND is_active=? ORDER BY id LIMIT 1`, h, h, true)
	return scanAdmin(row)
}

func (s *accountsStore) FindByUsername(ctx context.Context, username string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE username=?`, strings.ToLower(strings.TrimSpace(username)))
	return scanAdmin(row)
}

func (s *accountsStore) Get(ctx context.Context, id int64) (*Admin, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE id=?`, id)
	return scanAdmin(row)
}

func scanAdmin(row *sql.Row) (*Admin, error) {
	var a Admin
	var lastLogin sql.NullTime
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.FullName, &a.Role, &a.Avatar, &a.PasswordHash,
		&a.MustChangePassword, &a.Active, &lastLogin, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		a.LastLoginAt = &t
	}
	return &a, nil
}

func (s *accountsStore) Create(ctx context.Context, a *Admin) (int64, error) {
	now := nowUTC()
	a.Username = strings.ToLower(strings.TrimSpace(a.Username))
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO admins(username, email, full_name, role, avatar, password_hash, must_change_password, is_active, last_login_at, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		a.Username, a.Email, a.FullName, a.Role, a.Avatar, a.PasswordHash, a.MustChangePassword, a.Active, nullTime(a.LastLoginAt), now, now).Scan(&id)
	if err != nil {
		return 0, err
	}
	a.ID = id
	a.CreatedAt, a.UpdatedAt = now, now
	return id, nil
}

func (s *accountsStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC().Truncate(time.Second)
	_, err := s.db.ExecContext(ctx, `UPDATE admins SET last_login_at=?, updated_at=? WHERE id=?`, at, at, id)
	return err
}

func (s *accountsStore) UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE admins SET password_hash=?, must_change_password=?, updated_at=? WHERE id=?`, hash, mustChange, nowUTC(), id)
	return err
}

func (s *accountsStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE admins SET is_active=?, updated_at=? WHERE id=?`, active, nowUTC(), id)
	return err
}

func (s *accountsStore) CountByRole(ctx context.Context, role string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM admins WHERE role=? AND is_active=?`, role, true).Scan(&n)
	return n, err
}

func (s *accountsStore) List(ctx context.Context) ([]Admin, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+adminColumns+` FROM admins ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Admin
	for rows.Next() {
		var a Admin
		var lastLogin sql.NullTime
		if err := rows.Scan(&a.ID, &a.Username, &a.Email, &a.FullName, &a.Role, &a.Avatar, &a.PasswordHash,
			&a.MustChangePassword, &a.Active, &lastLogin, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if lastLogin.Valid {
			t := lastLogin.Time.UTC()
			a.LastLoginAt = &t
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
