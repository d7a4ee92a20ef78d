// querier.go defines the database handle abstraction shared by all
// repositories so the same repository code runs against a pooled connection
// or inside a transaction.
package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx. Repositories are
// constructed over a Querier; the approval engine builds transaction-scoped
// repositories so a publish flow commits or rolls back as one unit.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var (
	_ Querier = (*sqlx.DB)(nil)
	_ Querier = (*sqlx.Tx)(nil)
)
