package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const msgInUse = "is already in use"

var (
	ErrNotFound = errors.New("record not found")
	ErrReadOnly = errors.New("resource is read-only")
)

// ValidationErrors maps field name to a user-facing message.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StorageError wraps failures of the backing database or file storage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// isUniqueViolation reports a unique index conflict from either driver. The
// field check in validate catches the common case; this covers the race.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func uniqueConflict(s *Schema) ValidationErrors {
	errs := ValidationErrors{}
	for _, f := range s.Fields {
		if f.Unique {
			errs[f.Name] = msgInUse
		}
	}
	if len(errs) == 0 {
		errs["id"] = msgInUse
	}
	return errs
}
