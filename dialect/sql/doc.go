// Package sql manages connections and transactions and runs statements on
// top of database/sql.
//
// # Scopes
//
// Every statement runs inside a connection scope. Driver.Connection
// acquires a connection from the pool, hands it to a callback as a *Conn,
// and releases it when the callback returns, whatever the outcome:
//
//	drv, err := sql.Open("postgres", dsn)
//	err = drv.Connection(ctx, func(ctx context.Context, c *sql.Conn) error {
//	    return c.Select(ctx, "SELECT * FROM planet WHERE name = ?", sql.Args("Mars"), func(r *sql.Row) error {
//	        name, _ := r.Value("name")
//	        ...
//	    })
//	})
//
// Driver.Transaction opens a transaction on such a connection and stores
// it in the context passed to the callback. Connection and Transaction
// calls made with that context borrow the ambient transaction instead of
// acquiring a new connection; there are no savepoints. The transaction is
// committed when the outermost callback returns nil and rolled back when
// it returns an error or panics.
//
// The ambient transaction is keyed by the Driver, so two drivers never
// share one, and independent call chains never observe each other's.
//
// # Statements
//
// Statements are written with ? placeholders and rebound to the dialect
// style. Arguments carrying a type hint go through the registry serializer
// first. Insert statements can report generated keys, read either with
// RETURNING or from LastInsertId depending on the dialect.
//
// # Session Variables
//
// WithVar attaches session variables to a context. They are set on every
// connection acquired under it and reset when the connection is released.
//
// # Statistics
//
// WithStats, WithSlowThreshold and WithSlowQueryHook enable statement
// counters and slow query reporting. WithSlowQueryLog logs slow queries to
// the driver logger.
package sql
