// Package tx carries an open SQL transaction through context so that the
// session machine's terminal effects (attempt update, unit consumption, audit
// append) can share one transaction without the stores knowing about each
// other.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx returns a context carrying the transaction. A nil transaction leaves
// the context unchanged.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From reports the transaction carried by ctx, if any. Stores fall back to
// their own *sql.DB when none is present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
