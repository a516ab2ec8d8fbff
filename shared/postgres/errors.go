package postgres

import (
	"strings"

	"github.com/lib/pq"
)

// IsUniqueViolation checks if the error is a unique constraint violation
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}

	// 23505 is the PostgreSQL error code for unique_violation
	if pqErr.Code != "23505" {
		return false
	}

	if constraintName != "" {
		return strings.Contains(pqErr.Detail, constraintName) ||
			strings.Contains(pqErr.Constraint, constraintName)
	}

	return true
}

// IsForeignKeyViolation checks if the error is a foreign key constraint violation
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}

	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}

	// 23503 is the PostgreSQL error code for foreign_key_violation
	return pqErr.Code == "23503"
}
