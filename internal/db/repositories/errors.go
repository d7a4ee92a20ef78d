// errors.go maps PostgreSQL constraint failures onto the stable error kinds
// surfaced to callers.
package repositories

import (
	"errors"

	"github.com/lib/pq"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqRaiseException      = "P0001"
)

// wrapDBError converts driver-level constraint errors into typed errors:
// unique violations become conflicts, other constraint failures become
// integrity errors. Anything else passes through wrapped by the caller.
func wrapDBError(err error, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		details := map[string]any{"constraint": pqErr.Constraint}
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return apperrors.Conflict(message, details).WithCause(err)
		case pqForeignKeyViolation, pqCheckViolation, pqRaiseException:
			return apperrors.Integrity(message, details).WithCause(err)
		}
	}
	return err
}

// isUniqueViolation reports whether err is a unique-constraint failure,
// optionally on a specific constraint name.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
