package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/frostdev-ops/pma-alerting/pkg/errors"
	"github.com/mattn/go-sqlite3"
)

// Timestamps are always written in UTC so that SQLite's text comparison
// orders them correctly.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// notFound wraps sql.ErrNoRows into the application not-found error
func notFound(err error, entity string, key interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.WithDetails(apperrors.ErrNotFound, fmt.Sprintf("%s %v not found", entity, key))
	}
	return fmt.Errorf("failed to get %s: %w", entity, err)
}

func conflict(err error, entity, name string) error {
	if isUniqueViolation(err) {
		return apperrors.WithDetails(apperrors.ErrConflict, fmt.Sprintf("%s %q already exists", entity, name))
	}
	return err
}

func checkAffected(result sql.Result, entity string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.WithDetails(apperrors.ErrNotFound, fmt.Sprintf("%s %d not found", entity, id))
	}
	return nil
}
