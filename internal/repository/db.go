package repository

import (
	"database/sql/driver"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type scanner interface {
	Scan(dest ...any) error
}

// uuidArray adapts a uuid slice for "= ANY($1)" queries. lib/pq only knows
// how to encode string arrays.
func uuidArray(ids []uuid.UUID) driver.Valuer {
	ss := make([]string, len(ids))
	for i, id := range ids {
		ss[i] = id.String()
	}
	return pq.Array(ss)
}

// IsUniqueViolation reports whether err is a Postgres duplicate-key error.
// The unique constraints on ledger keys, payload hashes and intent keys are
// the concurrency control for this subsystem, so callers routinely branch
// on this.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
