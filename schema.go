package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// DefaultTableName defines the name of the database table which will
// hold the status of applied migrations
const DefaultTableName = "schema_migrations"

// Queryer is something which can execute a Query (either a sql.DB,
// a sql.Conn or a sql.Tx)
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Transactor defines the interface for the BeginTx method from the *sql.DB
type Transactor interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Connection defines the interface for a *sql.DB or *sql.Conn, which can
// both start a new transaction and run queries.
type Connection interface {
	Transactor
	Queryer
}

// Conner is implemented by *sql.DB. When the Connection handed to Apply
// supports it, the whole run is pinned to a single connection so that
// session-scoped advisory locks are released on the connection which
// obtained them.
type Conner interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// transaction wraps the supplied function in a transaction with the supplied
// database connecion
func transaction(ctx context.Context, db Transactor, f func(Queryer) error) (err error) {
	if db == nil {
		return ErrNilDB
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeUnavailable(ctx, err)
	}

	defer func() {
		if p := recover(); p != nil {
			switch p := p.(type) {
			case error:
				err = p
			default:
				err = fmt.Errorf("%s", p)
			}
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return f(tx)
}
