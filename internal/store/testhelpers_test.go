package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	pgconnUniqueViolation = pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"idx_progress_active\""}
	pgconnFKViolation     = pgconn.PgError{Code: "23503", Message: "insert or update violates foreign key constraint"}
)

func testTime() time.Time {
	return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
}
