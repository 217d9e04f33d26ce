// Package dialect isolates the SQL differences between backends behind a
// small abstraction (spec.md §9 design note), so ca/repository's query
// construction stays backend-agnostic. Only PostgreSQL is wired end-to-end
// (the teacher's and the pack's stack is pgx), but the seam is kept for
// the HSQLDB/Oracle variants the original system supports.
package dialect

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/DBatOWL/xipki/internal/errs"
)

// Dialect is implemented once per backend.
type Dialect interface {
	// BuildSelectFirstSQL wraps coreSQL to return at most limit rows in
	// the given order, e.g. "... ORDER BY id ASC LIMIT 50" for limit 50.
	BuildSelectFirstSQL(limit int, orderBy string, coreSQL string) string
	// SupportsInArray reports whether this backend can bind a Go slice
	// directly as a SQL array parameter (`= ANY($1)`) rather than
	// needing one placeholder per element.
	SupportsInArray() bool
	// Translate maps a backend-specific error into a typed errs.Error,
	// classifying constraint violations, connection loss, etc.
	Translate(op string, err error) error
}

// Postgres is the dialect wired for this deployment (github.com/jackc/pgx/v5).
type Postgres struct{}

func (Postgres) BuildSelectFirstSQL(limit int, orderBy string, coreSQL string) string {
	return fmt.Sprintf("%s ORDER BY %s LIMIT %d", coreSQL, orderBy, limit)
}

func (Postgres) SupportsInArray() bool { return true }

func (Postgres) Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if ok := errorsAs(err, &pgErr); ok {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"): // integrity constraint violation class
			return errs.New(errs.KindBadRequest, op, err)
		default:
			return errs.New(errs.KindDatabaseFailure, op, err)
		}
	}
	return errs.New(errs.KindDatabaseFailure, op, err)
}

// errorsAs walks err's Unwrap() error chain looking for a *pgconn.PgError,
// as errors.As would for this one target type; wrappers that expose
// Unwrap() []error are not searched.
func errorsAs(err error, target **pgconn.PgError) bool {
	for err != nil {
		if e, ok := err.(*pgconn.PgError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
