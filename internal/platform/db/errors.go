package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation    = "23505"
	codeExclusionViolation = "23P01"
	codeForeignKeyViolated = "23503"
)

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	return hasSQLState(err, codeUniqueViolation)
}

// IsExclusionViolation reports whether err is an exclusion-constraint
// violation (overlapping ranges under btree_gist).
func IsExclusionViolation(err error) bool {
	return hasSQLState(err, codeExclusionViolation)
}

// IsForeignKeyViolation reports whether err is a foreign-key violation.
func IsForeignKeyViolation(err error) bool {
	return hasSQLState(err, codeForeignKeyViolated)
}

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
