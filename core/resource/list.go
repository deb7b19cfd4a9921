package resource

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Params are the list controls taken from a request.
type Params struct {
	Page     int
	PageSize int
	Search   string
	Filters  map[string]string
	// Public limits rows to the schema's public filter.
	Public bool
}

type Page struct {
	Items      []Record `json:"items"`
	Total      int64    `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}

var reservedParams = map[string]bool{"search": true, "q": true, "page": true, "per_page": true}

// ParamsFromQuery reads search (or q), page and per_page; every other key is a
// filter candidate.
func ParamsFromQuery(q url.Values) Params {
	p := Params{
		Search:  strings.TrimSpace(q.Get("search")),
		Filters: map[string]string{},
	}
	if p.Search == "" {
		p.Search = strings.TrimSpace(q.Get("q"))
	}
	p.Page, _ = strconv.Atoi(strings.TrimSpace(q.Get("page")))
	p.PageSize, _ = strconv.Atoi(strings.TrimSpace(q.Get("per_page")))
	for key, vals := range q {
		if reservedParams[key] || len(vals) == 0 {
			continue
		}
		p.Filters[key] = vals[0]
	}
	return p
}

func (p Params) normalized(s *Schema) Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = s.PageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

func (e *Engine) List(ctx context.Context, s *Schema, params Params) (*Page, error) {
	p := params.normalized(s)
	where, args := e.whereClause(s, p)
	from := " FROM " + quoteIdent(s.Table) + where

	var total int64
	if err := e.db.QueryRowxContext(ctx, "SELECT COUNT(*)"+from, args...).Scan(&total); err != nil {
		return nil, storageErr("count "+s.Name, err)
	}
	page := &Page{Items: []Record{}, Total: total, Page: p.Page, PageSize: p.PageSize}
	if total > 0 {
		page.TotalPages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	offset := int64(p.Page-1) * int64(p.PageSize)
	if offset >= total {
		return page, nil
	}

	query := "SELECT " + selectList(s) + from + orderClause(s) + " LIMIT ? OFFSET ?"
	rows, err := e.db.QueryxContext(ctx, query, append(args, p.PageSize, offset)...)
	if err != nil {
		return nil, storageErr("list "+s.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		rec := Record{}
		if err := rows.MapScan(rec); err != nil {
			return nil, storageErr("scan "+s.Name, err)
		}
		page.Items = append(page.Items, normalizeRecord(s, rec))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list "+s.Name, err)
	}
	return page, nil
}

func (e *Engine) Get(ctx context.Context, s *Schema, id int64) (Record, error) {
	return e.get(ctx, e.db, s, id)
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (e *Engine) get(ctx context.Context, q queryer, s *Schema, id int64) (Record, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	rec := Record{}
	query := "SELECT " + selectList(s) + " FROM " + quoteIdent(s.Table) + " WHERE " + quoteIdent("id") + " = ?"
	err := q.QueryRowxContext(ctx, query, id).MapScan(rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get "+s.Name, err)
	}
	return normalizeRecord(s, rec), nil
}

func (e *Engine) whereClause(s *Schema, p Params) (string, []any) {
	var conds []string
	var args []any
	if p.Search != "" && len(s.Searchable) > 0 {
		term := "%" + escapeLike(strings.ToLower(p.Search)) + "%"
		ors := make([]string, 0, len(s.Searchable))
		for _, col := range s.Searchable {
			ors = append(ors, "LOWER("+quoteIdent(col)+") LIKE ? ESCAPE '\\'")
			args = append(args, term)
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	for _, col := range s.Filters {
		raw, ok := p.Filters[col]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		f, _ := s.Field(col)
		val, err := coerceFilter(f, raw)
		if err != nil {
			continue
		}
		conds = append(conds, quoteIdent(col)+" = ?")
		args = append(args, val)
	}
	if p.Public && s.Public != nil {
		f, _ := s.Field(s.Public.Column)
		if val, err := coerceFilter(f, s.Public.Equals); err == nil {
			conds = append(conds, quoteIdent(s.Public.Column)+" = ?")
			args = append(args, val)
		}
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func selectList(s *Schema) string {
	cols := s.columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func orderClause(s *Schema) string {
	out := " ORDER BY " + quoteIdent(s.Order.Column) + " " + s.Order.Direction
	if s.Order.Column != "id" {
		out += ", " + quoteIdent("id") + " ASC"
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

// normalizeRecord evens out driver differences: sqlite hands back []byte for
// text and int64 for booleans.
func normalizeRecord(s *Schema, rec Record) Record {
	for k, v := range rec {
		switch val := v.(type) {
		case []byte:
			rec[k] = string(val)
		case time.Time:
			rec[k] = val.UTC()
		}
		f, ok := s.Field(k)
		if !ok {
			continue
		}
		if f.Type == TypeBool {
			switch val := rec[k].(type) {
			case int64:
				rec[k] = val != 0
			case string:
				rec[k] = val == "1" || strings.EqualFold(val, "true")
			}
		}
	}
	return rec
}
