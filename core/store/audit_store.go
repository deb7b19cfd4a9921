package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
	AppendTx(ctx context.Context, q Queryer, e *AuditEntry) error
	Query(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

type auditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) Append(ctx context.Context, e *AuditEntry) error {
	return s.AppendTx(ctx, s.db, e)
}

// AppendTx writes through q so a mutation and its audit row commit together.
func (s *auditStore) AppendTx(ctx context.Context, q Queryer, e *AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Second)
	return q.QueryRowContext(ctx, `
		INSERT INTO audit_log(actor_id, actor_name, action, resource_type, resource_id, description, created_at)
		VALUES(?,?,?,?,?,?,?) RETURNING id`,
		e.ActorID, e.ActorName, e.Action, e.ResourceType, e.ResourceID, e.Description, e.CreatedAt).Scan(&e.ID)
}

func (s *auditStore) Query(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	where := []string{}
	args := []any{}
	if f.ActorID > 0 {
		where = append(where, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if v := strings.TrimSpace(f.ResourceType); v != "" {
		where = append(where, "resource_type=?")
		args = append(args, v)
	}
	if f.ResourceID > 0 {
		where = append(where, "resource_id=?")
		args = append(args, f.ResourceID)
	}
	if v := strings.TrimSpace(f.Action); v != "" {
		where = append(where, "action=?")
		args = append(args, v)
	}
	if f.Since != nil {
		where = append(where, "created_at>=?")
		args = append(args, f.Since.UTC().Truncate(time.Second))
	}
	if f.Until != nil {
		where = append(where, "created_at<=?")
		args = append(args, f.Until.UTC().Truncate(time.Second))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, actor_id, actor_name, action, resource_type, resource_id, description, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.ResourceType, &e.ResourceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
