package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus-cms/core/rbac"
	"campus-cms/core/store"
	"campus-cms/core/uploads"
	"github.com/jmoiron/sqlx"
)

// Submission is a decoded create or edit form.
type Submission struct {
	Values     map[string]string
	File       *uploads.Incoming
	RemoveFile bool
}

// fileChange describes what happens to the schema's file column.
type fileChange struct {
	field   *Field
	newName string
	set     bool
}

func (e *Engine) Create(ctx context.Context, s *Schema, actor Actor, sub Submission) (Record, error) {
	if s.ReadOnly {
		return nil, ErrReadOnly
	}
	values, errs, err := e.validate(ctx, s, sub.Values, 0)
	if err != nil {
		return nil, err
	}
	change, err := e.prepareFile(ctx, s, sub, nil, errs)
	if err != nil {
		return nil, err
	}
	if change.set {
		values[change.field.Name] = change.newName
	}

	now := e.timestamp()
	cols, args := orderedValues(s, values)
	cols = append(cols, "created_at", "updated_at")
	args = append(args, now, now)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	query := "INSERT INTO " + quoteIdent(s.Table) + " (" + strings.Join(quoted, ", ") + ") VALUES (" + placeholders + ") RETURNING " + quoteIdent("id")

	var id int64
	err = e.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			if isUniqueViolation(err) {
				return uniqueConflict(s)
			}
			return storageErr("insert "+s.Name, err)
		}
		return e.writeAudit(ctx, tx, s, actor, string(rbac.ActionCreate), id, describe(s, values))
	})
	if err != nil {
		e.discard(change.newName)
		return nil, err
	}
	e.notify(s.Name, string(rbac.ActionCreate))
	return e.Get(ctx, s, id)
}

func (e *Engine) Update(ctx context.Context, s *Schema, actor Actor, id int64, sub Submission) (Record, error) {
	if s.ReadOnly {
		return nil, ErrReadOnly
	}
	existing, err := e.Get(ctx, s, id)
	if err != nil {
		return nil, err
	}
	values, errs, err := e.validate(ctx, s, sub.Values, id)
	if err != nil {
		return nil, err
	}
	change, err := e.prepareFile(ctx, s, sub, existing, errs)
	if err != nil {
		return nil, err
	}
	if change.set {
		values[change.field.Name] = change.newName
	}

	cols, args := orderedValues(s, values)
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, quoteIdent(c)+" = ?")
	}
	sets = append(sets, quoteIdent("updated_at")+" = ?")
	args = append(args, e.timestamp(), id)
	query := "UPDATE " + quoteIdent(s.Table) + " SET " + strings.Join(sets, ", ") + " WHERE " + quoteIdent("id") + " = ?"

	err = e.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return uniqueConflict(s)
			}
			return storageErr("update "+s.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return e.writeAudit(ctx, tx, s, actor, string(rbac.ActionUpdate), id, describe(s, values))
	})
	if err != nil {
		e.discard(change.newName)
		return nil, err
	}
	if change.set {
		if old := fileName(existing, change.field); old != "" && old != change.newName {
			e.discard(old)
		}
	}
	e.notify(s.Name, string(rbac.ActionUpdate))
	return e.Get(ctx, s, id)
}

func (e *Engine) Delete(ctx context.Context, s *Schema, actor Actor, id int64) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	existing, err := e.Get(ctx, s, id)
	if err != nil {
		return err
	}
	err = e.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(s.Table)+" WHERE "+quoteIdent("id")+" = ?", id)
		if err != nil {
			return storageErr("delete "+s.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return e.writeAudit(ctx, tx, s, actor, string(rbac.ActionDelete), id, describe(s, existing))
	})
	if err != nil {
		return err
	}
	if ff := s.FileField(); ff != nil {
		e.discard(fileName(existing, ff))
	}
	e.notify(s.Name, string(rbac.ActionDelete))
	return nil
}

// prepareFile validates and stores a new upload before any row is written.
// It returns the collected validation errors when there are any.
func (e *Engine) prepareFile(ctx context.Context, s *Schema, sub Submission, existing Record, errs ValidationErrors) (fileChange, error) {
	ff := s.FileField()
	change := fileChange{field: ff}
	var accepted *uploads.Accepted
	if ff != nil {
		current := fileName(existing, ff)
		switch {
		case sub.File != nil:
			acc, err := e.validator.Check(sub.File, ff.Kind)
			var uerr *uploads.Error
			switch {
			case errors.As(err, &uerr):
				errs[ff.Name] = uerr.Reason
			case err != nil:
				return change, storageErr("read upload", err)
			default:
				accepted = acc
			}
		case sub.RemoveFile && ff.Required:
			errs[ff.Name] = "is required"
		case sub.RemoveFile:
			change.set = true
		case ff.Required && current == "":
			errs[ff.Name] = "is required"
		case existing == nil:
			change.set = true
		}
	}
	if len(errs) > 0 {
		return change, errs
	}
	if accepted != nil {
		name, err := e.files.Save(ctx, accepted)
		if err != nil {
			return change, storageErr("save upload", err)
		}
		change.newName = name
		change.set = true
	}
	return change, nil
}

func (e *Engine) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (e *Engine) writeAudit(ctx context.Context, tx *sqlx.Tx, s *Schema, actor Actor, action string, id int64, desc string) error {
	entry := &store.AuditEntry{
		ActorID:      actor.ID,
		ActorName:    actor.Name,
		Action:       action,
		ResourceType: s.Name,
		ResourceID:   id,
		Description:  desc,
		CreatedAt:    e.timestamp(),
	}
	if err := e.audit.AppendTx(ctx, tx, entry); err != nil {
		return storageErr("audit "+s.Name, err)
	}
	return nil
}

func (e *Engine) discard(name string) {
	if name == "" || e.files == nil {
		return
	}
	if err := e.files.Remove(name); err != nil && e.logger != nil {
		e.logger.Errorf("upload cleanup %s: %v", name, err)
	}
}

// orderedValues returns columns in declaration order so generated SQL is stable.
func orderedValues(s *Schema, values map[string]any) ([]string, []any) {
	cols := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+2)
	for _, f := range s.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, f.Name)
		args = append(args, v)
	}
	return cols, args
}

func fileName(rec Record, f *Field) string {
	if rec == nil || f == nil {
		return ""
	}
	name, _ := rec[f.Name].(string)
	return name
}

func describe(s *Schema, values map[string]any) string {
	for _, f := range s.Fields {
		if f.Type != TypeString {
			continue
		}
		if v, ok := values[f.Name].(string); ok && v != "" {
			return fmt.Sprintf("%s %q", s.Label, v)
		}
	}
	return s.Label
}
