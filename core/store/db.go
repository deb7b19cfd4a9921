package store

import (
	"database/sql"
	"errors"
	"strings"

	"campus-cms/config"
	"campus-cms/core/utils"
	_ "modernc.org/sqlite"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate&_time_format=sqlite"

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver == "" {
		if strings.TrimSpace(cfg.DBURL) == "" && strings.TrimSpace(cfg.DBPath) != "" {
			driver = "sqlite"
		} else {
			driver = "postgres"
		}
	}
	switch driver {
	case "postgres", "pg":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return nil, errors.New("CMS_DB_URL is required for postgres")
		}
		db, err := sql.Open(postgresDriverName, cfg.DBURL)
		if err != nil {
			if logger != nil {
				logger.Errorf("db open failed: %v", err)
			}
			return nil, err
		}
		if logger != nil {
			logger.Printf("db open postgres")
		}
		return db, nil
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return nil, errors.New("CMS_DB_PATH is required for sqlite")
		}
		db, err := sql.Open("sqlite", sqliteDSN(cfg.DBPath))
		if err != nil {
			if logger != nil {
				logger.Errorf("db open failed: %v", err)
			}
			return nil, err
		}
		if logger != nil {
			logger.Printf("db open sqlite %s", cfg.DBPath)
		}
		return db, nil
	default:
		return nil, errors.New("unsupported db driver: " + driver)
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqlitePragmas
	}
	return "file:" + path + "?" + sqlitePragmas
}

// DriverName reports the sqlx bind driver for db.
func DriverName(db *sql.DB) string {
	if db == nil {
		return ""
	}
	if _, ok := db.Driver().(rewriteDriver); ok {
		return "pgx"
	}
	return "sqlite"
}

func IsPostgres(db *sql.DB) bool {
	return DriverName(db) == "pgx"
}
