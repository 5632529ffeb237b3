package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/syssam/kaboom/dialect"
)

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Argument is a value bound to one placeholder. A non-empty Hint selects
// the registry serializer applied before binding.
type Argument struct {
	Value any
	Hint  string
}

// Arg returns an Argument without a type hint.
func Arg(v any) Argument { return Argument{Value: v} }

// HintedArg returns an Argument with a type hint.
func HintedArg(v any, hint string) Argument { return Argument{Value: v, Hint: hint} }

// Args returns an Argument without a type hint for each value.
func Args(vs ...any) []Argument {
	args := make([]Argument, len(vs))
	for i, v := range vs {
		args[i] = Argument{Value: v}
	}
	return args
}

// Conn executes statements on one connection, or on the transaction
// running on it. Statements are written with ? placeholders; they are
// rebound to the dialect style before execution.
type Conn struct {
	ExecQuerier
	drv *Driver
	raw *sql.Conn
	tx  *sql.Tx
}

// Driver returns the driver that owns the connection.
func (c *Conn) Driver() *Driver { return c.drv }

// InTx reports whether statements run inside a transaction.
func (c *Conn) InTx() bool { return c.tx != nil }

// Select runs query and calls fn for every row, in order. The rows are
// closed on every exit path, including a failure of fn.
func (c *Conn) Select(ctx context.Context, query string, args []Argument, fn func(*Row) error) (rerr error) {
	q, argv, err := c.prepare(query, args)
	if err != nil {
		return err
	}
	c.drv.log.DebugContext(ctx, "query", "query", q, "args", argv)
	start := time.Now()
	rows, err := c.QueryContext(ctx, q, argv...)
	c.drv.record(ctx, q, argv, start, err, true)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	defer func() {
		rerr = c.drv.closed(ctx, rerr, rows.Close(), "rows")
	}()
	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("dialect/sql: query: columns: %w", err)
	}
	idx := newColumnIndex(columns)
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("dialect/sql: query: scan: %w", err)
		}
		if err := fn(&Row{index: idx, values: values}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	return nil
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string, args []Argument) (Result, error) {
	q, argv, err := c.prepare(query, args)
	if err != nil {
		return nil, err
	}
	c.drv.log.DebugContext(ctx, "exec", "query", q, "args", argv)
	start := time.Now()
	res, err := c.ExecContext(ctx, q, argv...)
	c.drv.record(ctx, q, argv, start, err, false)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	return res, nil
}

// Insert runs an INSERT statement.
func (c *Conn) Insert(ctx context.Context, query string, args []Argument) error {
	_, err := c.Exec(ctx, query, args)
	return err
}

// Update runs an UPDATE statement and returns the number of affected rows.
func (c *Conn) Update(ctx context.Context, query string, args []Argument) (int64, error) {
	res, err := c.Exec(ctx, query, args)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: rows affected: %w", err)
	}
	return n, nil
}

// InsertReturning runs an INSERT statement and returns the values the
// store generated for columns, in order. Dialects with RETURNING support
// read all columns; the others read a single key from LastInsertId.
func (c *Conn) InsertReturning(ctx context.Context, query string, args []Argument, columns ...string) ([]any, error) {
	if len(columns) == 0 {
		return nil, c.Insert(ctx, query, args)
	}
	if c.drv.registry.Keys() == dialect.LastInsertID {
		if len(columns) != 1 {
			return nil, fmt.Errorf("dialect/sql: %s cannot report %d generated keys", c.drv.Dialect(), len(columns))
		}
		res, err := c.Exec(ctx, query, args)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("dialect/sql: last insert id: %w", err)
		}
		return []any{id}, nil
	}
	var keys []any
	err := c.Select(ctx, query+" RETURNING "+strings.Join(columns, ", "), args, func(r *Row) error {
		if keys != nil {
			return nil
		}
		keys = make([]any, len(columns))
		for i, name := range columns {
			v, ok := r.Value(name)
			if !ok {
				return fmt.Errorf("dialect/sql: generated key %q missing from result", name)
			}
			keys[i] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, ErrNoGeneratedKeys
	}
	return keys, nil
}

// prepare serializes hinted arguments and rebinds query, casting the
// placeholders of typed documents.
func (c *Conn) prepare(query string, args []Argument) (string, []any, error) {
	argv := make([]any, len(args))
	for i, a := range args {
		v, err := c.drv.registry.Serialize(a.Hint, a.Value)
		if err != nil {
			return "", nil, fmt.Errorf("dialect/sql: bind argument %d: %w", i+1, err)
		}
		argv[i] = v
	}
	return c.drv.registry.RebindArgs(query, argv), argv, nil
}

// columnIndex resolves column names to positions. It is shared by all
// rows of one result set.
type columnIndex struct {
	columns []string
	exact   map[string]int
	folded  map[string]int
}

func newColumnIndex(columns []string) *columnIndex {
	idx := &columnIndex{
		columns: columns,
		exact:   make(map[string]int, len(columns)),
		folded:  make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, ok := idx.exact[c]; !ok {
			idx.exact[c] = i
		}
		if f := strings.ToLower(c); !hasKey(idx.folded, f) {
			idx.folded[f] = i
		}
	}
	return idx
}

func hasKey(m map[string]int, k string) bool {
	_, ok := m[k]
	return ok
}

// Row is one row of a result set. It is only valid inside the callback
// it was passed to.
type Row struct {
	index  *columnIndex
	values []any
}

// Columns returns the result-set column names.
func (r *Row) Columns() []string { return r.index.columns }

// Len returns the number of columns.
func (r *Row) Len() int { return len(r.values) }

// Index returns the value at position i.
func (r *Row) Index(i int) any { return r.values[i] }

// Value returns the value of the named column. Names are matched exactly
// first and then case-insensitively, since stores differ in how they fold
// unquoted identifiers.
func (r *Row) Value(name string) (any, bool) {
	i, ok := r.index.exact[name]
	if !ok {
		i, ok = r.index.folded[strings.ToLower(name)]
	}
	if !ok {
		return nil, false
	}
	return r.values[i], true
}
