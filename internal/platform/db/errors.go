package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PgErrorCode extracts the PostgreSQL error code from err, or "" when not a pg error.
func PgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
