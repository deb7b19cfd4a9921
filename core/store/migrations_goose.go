package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"campus-cms/core/utils"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var gooseMigrationsFS embed.FS

type MigrationStatus struct {
	NowUTC         time.Time `json:"now_utc"`
	Dialect        string    `json:"dialect"`
	CurrentVersion int64     `json:"current_version"`
	LatestVersion  int64     `json:"latest_version"`
	HasPending     bool      `json:"has_pending"`
}

func newGooseProvider(db *sql.DB) (*goose.Provider, string, error) {
	if db == nil {
		return nil, "", fmt.Errorf("nil db")
	}
	dialect, dir := goose.DialectSQLite3, "migrations/sqlite"
	if IsPostgres(db) {
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	}
	sub, err := fs.Sub(gooseMigrationsFS, dir)
	if err != nil {
		return nil, "", err
	}
	p, err := goose.NewProvider(dialect, db, sub)
	if err != nil {
		return nil, "", err
	}
	return p, string(dialect), nil
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	p, dialect, err := newGooseProvider(db)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("applying goose migrations (%s)", dialect)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("goose migrations applied: %d", len(results))
	}
	return nil
}

func GetMigrationStatus(ctx context.Context, db *sql.DB) (MigrationStatus, error) {
	st := MigrationStatus{NowUTC: time.Now().UTC()}
	p, dialect, err := newGooseProvider(db)
	if err != nil {
		return st, err
	}
	st.Dialect = dialect
	for _, src := range p.ListSources() {
		if src.Version > st.LatestVersion {
			st.LatestVersion = src.Version
		}
	}
	cur, err := p.GetDBVersion(ctx)
	if err != nil {
		return st, err
	}
	st.CurrentVersion = cur
	st.HasPending = st.LatestVersion > cur
	return st, nil
}
