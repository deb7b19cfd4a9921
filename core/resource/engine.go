package resource

import (
	"database/sql"
	"time"

	"campus-cms/core/store"
	"campus-cms/core/uploads"
	"campus-cms/core/utils"
	"github.com/jmoiron/sqlx"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Actor is the authenticated identity behind a mutation.
type Actor struct {
	ID   int64
	Name string
}

// Record is one row keyed by column name.
type Record map[string]any

func (r Record) ID() int64 {
	id, _ := r["id"].(int64)
	return id
}

type Engine struct {
	db        *sqlx.DB
	audit     store.AuditStore
	files     uploads.Storage
	validator *uploads.Validator
	logger    *utils.Logger
	now       func() time.Time
	observer  func(resource, action string)
}

func NewEngine(db *sql.DB, audit store.AuditStore, files uploads.Storage, validator *uploads.Validator, logger *utils.Logger) *Engine {
	return &Engine{
		db:        sqlx.NewDb(db, store.DriverName(db)),
		audit:     audit,
		files:     files,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// OnMutation registers a callback fired after each committed mutation.
func (e *Engine) OnMutation(fn func(resource, action string)) {
	e.observer = fn
}

func (e *Engine) notify(resource, action string) {
	if e.observer != nil {
		e.observer(resource, action)
	}
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Second)
}
