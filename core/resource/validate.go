package resource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"campus-cms/core/utils"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04"
)

var errInvalid = errors.New("invalid value")

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "", "0", "false", "off", "no":
		return false, nil
	}
	return false, errInvalid
}

// coerceFilter converts a query-string value to the column's type. A value
// that does not convert is dropped by the caller.
func coerceFilter(f *Field, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch f.Type {
	case TypeBool:
		return parseBool(raw)
	case TypeInt, TypeRef:
		return strconv.ParseInt(raw, 10, 64)
	case TypeEnum:
		for _, v := range f.Values {
			if v == raw {
				return raw, nil
			}
		}
		return nil, errInvalid
	case TypeDate:
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return nil, errInvalid
		}
		return raw, nil
	default:
		return raw, nil
	}
}

// formValue checks one submitted value. Missing checkboxes arrive as "" and
// mean false.
func formValue(f *Field, raw string) (any, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if f.Required && f.Type != TypeBool {
			return nil, "is required"
		}
		switch f.Type {
		case TypeBool:
			return false, ""
		case TypeInt:
			return int64(0), ""
		case TypeRef:
			return nil, ""
		default:
			return "", ""
		}
	}
	if f.MaxLength > 0 && utf8.RuneCountInString(raw) > f.MaxLength {
		return nil, fmt.Sprintf("must be at most %d characters", f.MaxLength)
	}
	switch f.Type {
	case TypeBool:
		v, err := parseBool(raw)
		if err != nil {
			return nil, "must be a checkbox value"
		}
		return v, ""
	case TypeInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, "must be a whole number"
		}
		return v, ""
	case TypeRef:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return nil, "must reference an existing record"
		}
		return v, ""
	case TypeEnum:
		for _, v := range f.Values {
			if v == raw {
				return raw, ""
			}
		}
		return nil, "must be one of " + strings.Join(f.Values, ", ")
	case TypeEmail:
		if err := utils.ValidateEmail(raw); err != nil {
			return nil, "must be a valid email address"
		}
		return strings.ToLower(raw), ""
	case TypeURL:
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, "must be an http or https URL"
		}
		return raw, ""
	case TypeDate:
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return nil, "must be a date (YYYY-MM-DD)"
		}
		return raw, ""
	case TypeDateTime:
		if t, err := time.Parse(dateTimeLayout, raw); err == nil {
			return t.Format(dateTimeLayout), ""
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC().Format(dateTimeLayout), ""
		}
		return nil, "must be a date and time (YYYY-MM-DDTHH:MM)"
	default:
		return raw, ""
	}
}

// validate checks every non-file field. Field problems are collected in errs;
// err is reserved for storage failures. selfID is the row being edited and is
// excluded from uniqueness checks; zero on create.
func (e *Engine) validate(ctx context.Context, s *Schema, values map[string]string, selfID int64) (map[string]any, ValidationErrors, error) {
	out := map[string]any{}
	errs := ValidationErrors{}
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Type == TypeFile {
			continue
		}
		v, msg := formValue(f, values[f.Name])
		if msg != "" {
			errs[f.Name] = msg
			continue
		}
		out[f.Name] = v
	}
	for col, target := range s.refs {
		id, ok := out[col].(int64)
		if !ok {
			continue
		}
		exists, err := e.exists(ctx, e.db, target, id)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			errs[col] = "must reference an existing record"
		}
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		if !f.Unique || errs[f.Name] != "" {
			continue
		}
		v, ok := out[f.Name]
		if !ok || v == nil || v == "" {
			continue
		}
		taken, err := e.taken(ctx, e.db, s, f, v, selfID)
		if err != nil {
			return nil, nil, err
		}
		if taken {
			errs[f.Name] = msgInUse
		}
	}
	return out, errs, nil
}

func (e *Engine) taken(ctx context.Context, q queryer, s *Schema, f *Field, v any, selfID int64) (bool, error) {
	var n int64
	query := "SELECT COUNT(*) FROM " + quoteIdent(s.Table) + " WHERE " + quoteIdent(f.Name) + " = ? AND " + quoteIdent("id") + " <> ?"
	if err := q.QueryRowxContext(ctx, query, v, selfID).Scan(&n); err != nil {
		return false, storageErr("lookup "+s.Name, err)
	}
	return n > 0, nil
}

func (e *Engine) exists(ctx context.Context, q queryer, s *Schema, id int64) (bool, error) {
	var n int64
	err := q.QueryRowxContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(s.Table)+" WHERE "+quoteIdent("id")+" = ?", id).Scan(&n)
	if err != nil {
		return false, storageErr("lookup "+s.Name, err)
	}
	return n > 0, nil
}
