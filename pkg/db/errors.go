package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

const sqlStateUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation from
// Postgres (SQLSTATE 23505) or SQLite. When constraintName is provided it must
// match the Postgres constraint; SQLite does not report index names, so any
// SQLite unique failure matches.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if state := pkgerrors.SQLState(err); state != "" {
		if state != sqlStateUniqueViolation {
			return false
		}
		return constraintName == "" || pkgerrors.Constraint(err) == constraintName
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}
	if !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}
