package schema

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNilDB is thrown when the database pointer is nil
	ErrNilDB = errors.New("DB pointer is nil")

	// ErrAlreadyExists is returned when a table or column being created
	// collides with an existing one
	ErrAlreadyExists = errors.New("already exists")

	// ErrTableNotFound is returned when an operation targets a table which
	// does not exist
	ErrTableNotFound = errors.New("table not found")

	// ErrStoreUnavailable indicates that the schema store or ledger could not
	// be reached, or did not answer before the step timeout
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidDefinition is returned for malformed tables, columns,
	// operations or migration sets
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrIrreversible is returned when reverting a migration which has no
	// Down operation
	ErrIrreversible = errors.New("migration is irreversible")
)

// MigrationError reports the version of the migration which halted a run
// along with the underlying cause.
type MigrationError struct {
	Version string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration '%s' failed: %s", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// ErrorKind returns a short label naming the class of err. It is used as
// a log field and metric label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrTableNotFound):
		return "table_not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidDefinition):
		return "invalid_definition"
	case errors.Is(err, ErrIrreversible):
		return "irreversible"
	default:
		return "unknown"
	}
}

// storeUnavailable marks connectivity failures and expired deadlines with
// ErrStoreUnavailable. Other errors are returned unchanged.
func storeUnavailable(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
