package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/syssam/kaboom/dialect"
)

// validIdentifierRe validates SQL identifiers (alphanumeric, underscores, dots for schema.name)
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// isValidIdentifier checks if the string is a valid SQL identifier.
func isValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// escapeStringValue escapes a string value for safe use in SQL.
// It escapes both single quotes (by doubling) and backslashes (for MySQL compatibility).
func escapeStringValue(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return s
}

type (
	// Result is an alias to sql.Result.
	Result = sql.Result
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
)

// Connector is the source of physical connections. *sql.DB implements it.
type Connector interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Driver owns connection lifecycle and transactions for one database.
// It is safe for concurrent use; the ambient transaction travels in the
// context passed to each call, never in the Driver itself.
type Driver struct {
	connector Connector
	db        *sql.DB
	registry  *dialect.Registry
	log       *slog.Logger
	txOptions *TxOptions

	stats         *QueryStats
	mu            sync.RWMutex
	slowThreshold time.Duration
	slowHook      SlowQueryHook
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger used for statement and lifecycle logging.
// The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.log = l
	}
}

// WithTxOptions sets the options used to begin transactions.
func WithTxOptions(opts *TxOptions) Option {
	return func(d *Driver) {
		d.txOptions = opts
	}
}

// NewDriver returns a Driver over the connector c using the coercions and
// statement conventions of reg.
func NewDriver(c Connector, reg *dialect.Registry, opts ...Option) *Driver {
	d := &Driver{
		connector:     c,
		registry:      reg,
		log:           slog.Default(),
		slowThreshold: 100 * time.Millisecond,
	}
	if db, ok := c.(*sql.DB); ok {
		d.db = db
	}
	if d.registry == nil {
		d.registry = dialect.Standard()
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open wraps the database/sql.Open method and returns a Driver whose
// registry is resolved from the driver name.
func Open(driverName, source string, opts ...Option) (*Driver, error) {
	reg, err := dialect.ForName(driverName)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return NewDriver(db, reg, opts...), nil
}

// OpenDB wraps the given database/sql.DB with a Driver for the named dialect.
func OpenDB(name string, db *sql.DB, opts ...Option) (*Driver, error) {
	reg, err := dialect.ForName(name)
	if err != nil {
		return nil, err
	}
	return NewDriver(db, reg, opts...), nil
}

// DB returns the underlying *sql.DB instance, or nil if the Driver was
// built over another Connector.
func (d *Driver) DB() *sql.DB { return d.db }

// Registry returns the coercion registry of the driver.
func (d *Driver) Registry() *dialect.Registry { return d.registry }

// Dialect returns the dialect name.
func (d *Driver) Dialect() string { return d.registry.Name() }

// Logger returns the driver logger.
func (d *Driver) Logger() *slog.Logger { return d.log }

// Close closes the underlying database, if the Driver owns one.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// txKey is the context key of the ambient transaction of one Driver.
type txKey struct{ d *Driver }

// InTransaction reports whether ctx carries an ambient transaction of d.
func (d *Driver) InTransaction(ctx context.Context) bool {
	_, ok := d.ambient(ctx)
	return ok
}

func (d *Driver) ambient(ctx context.Context) (*Conn, bool) {
	c, ok := ctx.Value(txKey{d}).(*Conn)
	return c, ok
}

// Connection runs fn with a connection-bound Conn. If ctx carries an
// ambient transaction of d, fn runs on it and nothing is released
// afterwards. Otherwise a connection is acquired for the duration of fn
// and released on every exit path.
func (d *Driver) Connection(ctx context.Context, fn func(context.Context, *Conn) error) (rerr error) {
	if c, ok := d.ambient(ctx); ok {
		return fn(ctx, c)
	}
	start := time.Now()
	raw, err := d.connector.Conn(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: acquire connection: %w", err)
	}
	d.log.DebugContext(ctx, "connection acquired", "duration", time.Since(start))
	reset, err := d.setVars(ctx, raw)
	if err != nil {
		return errors.Join(fmt.Errorf("dialect/sql: set session vars: %w", err), raw.Close())
	}
	defer func() {
		rerr = d.closed(ctx, rerr, d.release(raw, reset), "connection")
	}()
	return fn(ctx, &Conn{ExecQuerier: raw, drv: d, raw: raw})
}

// Transaction runs fn inside a transaction. The transaction is committed
// when fn returns nil and rolled back when fn fails or panics. Calls nested
// in fn, through the context it receives, join the same transaction.
//
// The error of fn is returned unchanged. A failed rollback is joined after
// it as a *TxError; a failed begin or commit is returned as a *TxError.
func (d *Driver) Transaction(ctx context.Context, fn func(context.Context, *Conn) error) error {
	if c, ok := d.ambient(ctx); ok {
		return fn(ctx, c)
	}
	return d.Connection(ctx, func(ctx context.Context, c *Conn) error {
		tx, err := c.raw.BeginTx(ctx, d.txOptions)
		if err != nil {
			return &TxError{Op: "begin", Err: err}
		}
		d.log.DebugContext(ctx, "begin transaction")
		tc := &Conn{ExecQuerier: tx, drv: d, raw: c.raw, tx: tx}
		done := false
		defer func() {
			if done {
				return
			}
			d.recordTx(false)
			if err := tx.Rollback(); err != nil {
				d.log.WarnContext(ctx, "rollback after panic failed", "error", err)
			}
		}()
		if err := fn(context.WithValue(ctx, txKey{d}, tc), tc); err != nil {
			done = true
			d.log.DebugContext(ctx, "rollback transaction", "error", err)
			d.recordTx(false)
			if rerr := tx.Rollback(); rerr != nil {
				return errors.Join(err, &TxError{Op: "rollback", Err: rerr})
			}
			return err
		}
		done = true
		if err := tx.Commit(); err != nil {
			return &TxError{Op: "commit", Err: err}
		}
		d.recordTx(true)
		d.log.DebugContext(ctx, "commit transaction")
		return nil
	})
}

// closed merges a release failure into the result of a scope. A primary
// error always wins; the release failure is then only logged.
func (d *Driver) closed(ctx context.Context, primary, cerr error, what string) error {
	switch {
	case cerr == nil:
		return primary
	case primary == nil:
		return fmt.Errorf("dialect/sql: close %s: %w", what, cerr)
	default:
		d.log.WarnContext(ctx, "close failed", "resource", what, "error", cerr)
		return primary
	}
}

// ctxVarsKey is the key used for attaching and reading the context variables.
type ctxVarsKey struct{}

// sessionVars holds session variables to set on every acquired connection.
type sessionVars struct {
	vars []struct{ k, v string }
}

// WithVar returns a new context that holds a session variable to set on
// connections acquired under it. Variables are reset when the connection
// is released.
func WithVar(ctx context.Context, name, value string) context.Context {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	vars := make([]struct{ k, v string }, len(sv.vars), len(sv.vars)+1)
	copy(vars, sv.vars)
	sv.vars = append(vars, struct{ k, v string }{k: name, v: value})
	return context.WithValue(ctx, ctxVarsKey{}, sv)
}

// VarFromContext returns the session variable value from the context.
// The most recent value set for the name wins.
func VarFromContext(ctx context.Context, name string) (string, bool) {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	for i := len(sv.vars) - 1; i >= 0; i-- {
		if sv.vars[i].k == name {
			return sv.vars[i].v, true
		}
	}
	return "", false
}

// setVars applies the session variables of ctx to raw and returns the
// statements that reset them.
func (d *Driver) setVars(ctx context.Context, raw *sql.Conn) ([]string, error) {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	if len(sv.vars) == 0 {
		return nil, nil
	}
	var (
		reset []string
		seen  = make(map[string]struct{}, len(sv.vars))
	)
	for _, s := range sv.vars {
		if !isValidIdentifier(s.k) {
			return nil, fmt.Errorf("invalid session variable name: %q", s.k)
		}
		if _, ok := seen[s.k]; !ok {
			switch d.Dialect() {
			case dialect.Postgres:
				reset = append(reset, fmt.Sprintf("RESET %s", s.k))
			case dialect.MySQL:
				reset = append(reset, fmt.Sprintf("SET %s = NULL", s.k))
			}
			seen[s.k] = struct{}{}
		}
		if _, err := raw.ExecContext(ctx, fmt.Sprintf("SET %s = '%s'", s.k, escapeStringValue(s.v))); err != nil {
			return nil, err
		}
	}
	return reset, nil
}

// release resets session variables and returns raw to the pool. The reset
// uses a fresh context so it completes even if the caller's was canceled.
func (d *Driver) release(raw *sql.Conn, reset []string) error {
	if len(reset) == 0 {
		return raw.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, q := range reset {
		if _, err := raw.ExecContext(ctx, q); err != nil {
			return errors.Join(err, raw.Close())
		}
	}
	return raw.Close()
}
