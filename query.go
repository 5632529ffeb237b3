package kaboom

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/kaboom/dialect/sql"
)

// Query is the immutable state of a SELECT statement.
type Query struct {
	selection string
	where     []string
	order     string
	limit     *int64
	offset    *int64
	args      []sql.Argument
}

// NewQuery returns a query over the given select clause.
func NewQuery(selection string) Query {
	return Query{selection: selection}
}

// SQL returns the statement text with ? placeholders.
func (q Query) SQL() string {
	var b strings.Builder
	b.WriteString(q.selection)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if q.order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.order)
	}
	if q.limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.FormatInt(*q.limit, 10))
	}
	if q.offset != nil {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.FormatInt(*q.offset, 10))
	}
	return b.String()
}

// Args returns the bound arguments in placeholder order.
func (q Query) Args() []sql.Argument {
	return slices.Clone(q.args)
}

// String returns the statement text followed by its argument values.
func (q Query) String() string {
	values := make([]any, len(q.args))
	for i, a := range q.args {
		values[i] = a.Value
	}
	return fmt.Sprintf("%s %v", q.SQL(), values)
}

// QueryBuilder is a persistent builder of SELECT statements over records
// of type T. Every method returns a new builder and leaves the receiver
// untouched, so a builder can be shared and extended from many places.
//
// Arguments are bound in the order they are added. Keeping them in step
// with the placeholders of the WHERE fragments is up to the caller.
type QueryBuilder[T any] struct {
	drv    *sql.Driver
	mapper RowMapper[T]
	label  string
	table  string
	query  Query
	conn   *sql.Conn
	cache  *resultCache
}

// NewQueryBuilder returns a builder running q on drv and mapping rows
// with m. Table and label name the record table and type; they are used
// by Count and in errors.
func NewQueryBuilder[T any](drv *sql.Driver, m RowMapper[T], table, label string, q Query) QueryBuilder[T] {
	return QueryBuilder[T]{drv: drv, mapper: m, table: table, label: label, query: q}
}

// Query returns the accumulated query.
func (b QueryBuilder[T]) Query() Query { return b.query }

// Select replaces the select clause.
func (b QueryBuilder[T]) Select(selection string) QueryBuilder[T] {
	b.query.selection = selection
	return b
}

// Where appends a predicate, AND-joined with the previous ones. It binds
// no argument.
func (b QueryBuilder[T]) Where(fragment string) QueryBuilder[T] {
	b.query.where = append(slices.Clip(b.query.where), fragment)
	return b
}

// Match appends the predicates, AND-joined with the previous ones, and
// binds their arguments.
func (b QueryBuilder[T]) Match(ps ...Predicate) QueryBuilder[T] {
	for _, p := range ps {
		b = b.Where(p.SQL).Arguments(p.Args...)
	}
	return b
}

// Order replaces the ORDER BY clause.
func (b QueryBuilder[T]) Order(order string) QueryBuilder[T] {
	b.query.order = order
	return b
}

// Limit replaces the row limit.
func (b QueryBuilder[T]) Limit(n int64) QueryBuilder[T] {
	b.query.limit = &n
	return b
}

// Offset replaces the row offset.
func (b QueryBuilder[T]) Offset(n int64) QueryBuilder[T] {
	b.query.offset = &n
	return b
}

// Argument appends one argument.
func (b QueryBuilder[T]) Argument(v any) QueryBuilder[T] {
	return b.bind(sql.Arg(v))
}

// HintedArgument appends one argument serialized with the type hint.
func (b QueryBuilder[T]) HintedArgument(v any, hint string) QueryBuilder[T] {
	return b.bind(sql.HintedArg(v, hint))
}

// Arguments appends the arguments in order.
func (b QueryBuilder[T]) Arguments(vs ...any) QueryBuilder[T] {
	return b.bind(sql.Args(vs...)...)
}

func (b QueryBuilder[T]) bind(args ...sql.Argument) QueryBuilder[T] {
	b.query.args = append(slices.Clip(b.query.args), args...)
	return b
}

// on returns a builder that runs on c instead of acquiring a connection.
func (b QueryBuilder[T]) on(c *sql.Conn) QueryBuilder[T] {
	b.conn = c
	return b
}

// Cached returns a builder whose results are read from and stored in c.
// Queries run inside a transaction bypass the cache.
func (b QueryBuilder[T]) Cached(c Cache, ttl time.Duration) QueryBuilder[T] {
	b.cache = &resultCache{cache: c, ttl: ttl}
	return b
}

// Uncached returns a builder that always queries the store.
func (b QueryBuilder[T]) Uncached() QueryBuilder[T] {
	b.cache = nil
	return b
}

// SQL returns the statement text with ? placeholders.
func (b QueryBuilder[T]) SQL() string { return b.query.SQL() }

// String returns the statement text followed by its argument values.
func (b QueryBuilder[T]) String() string { return b.query.String() }

// Execute runs the query and returns every mapped row, in order. It
// returns an empty, non-nil slice when no row matches.
func (b QueryBuilder[T]) Execute(ctx context.Context) ([]T, error) {
	key, cached := b.cacheKey(ctx, "select", b.query)
	if cached {
		var out []T
		if b.cache.load(ctx, key, &out) {
			if out == nil {
				out = make([]T, 0)
			}
			return out, nil
		}
	}
	out := make([]T, 0)
	err := b.run(ctx, func(ctx context.Context, c *sql.Conn) error {
		return c.Select(ctx, b.query.SQL(), b.query.args, func(r *sql.Row) error {
			v, err := b.mapper.Map(r)
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, b.wrap("select", err)
	}
	if cached {
		b.remember(ctx, key, out)
	}
	return out, nil
}

// Single runs the query and returns its first mapped row. Further rows
// are ignored without error. A query matching no row fails with a
// *NotFoundError.
func (b QueryBuilder[T]) Single(ctx context.Context) (T, error) {
	var (
		out   T
		found bool
	)
	err := b.run(ctx, func(ctx context.Context, c *sql.Conn) error {
		return c.Select(ctx, b.query.SQL(), b.query.args, func(r *sql.Row) (err error) {
			if found {
				return nil
			}
			out, err = b.mapper.Map(r)
			found = err == nil
			return err
		})
	})
	if err != nil {
		return out, b.wrap("single", err)
	}
	if !found {
		return out, NewNotFoundError(b.label)
	}
	return out, nil
}

// Count runs the query with its select clause replaced by a row count and
// returns the count. Order, limit and offset do not apply.
func (b QueryBuilder[T]) Count(ctx context.Context) (int64, error) {
	q := b.query
	q.selection = "SELECT count(*) FROM " + b.table
	q.order, q.limit, q.offset = "", nil, nil
	key, cached := b.cacheKey(ctx, "count", q)
	var (
		n     int64
		found bool
	)
	if cached && b.cache.load(ctx, key, &n) {
		return n, nil
	}
	err := b.run(ctx, func(ctx context.Context, c *sql.Conn) error {
		return c.Select(ctx, q.SQL(), q.args, func(r *sql.Row) error {
			if found || r.Len() == 0 {
				return nil
			}
			v, err := toInt64(r.Index(0))
			if err != nil {
				return err
			}
			n, found = v, true
			return nil
		})
	})
	if err != nil {
		return 0, b.wrap("count", err)
	}
	if !found {
		return 0, NewQueryError(b.label, "count", ErrEmptyCount)
	}
	if cached {
		b.remember(ctx, key, n)
	}
	return n, nil
}

// cacheKey returns the cache key of q, and whether the cache applies.
func (b QueryBuilder[T]) cacheKey(ctx context.Context, op string, q Query) (string, bool) {
	if b.cache == nil || b.conn != nil || b.drv.InTransaction(ctx) {
		return "", false
	}
	args := make([]any, len(q.args))
	for i, a := range q.args {
		args[i] = a.Value
	}
	return CacheKey{Table: b.table, Operation: op, Query: q.SQL(), Args: args}.String(), true
}

func (b QueryBuilder[T]) remember(ctx context.Context, key string, v any) {
	if err := b.cache.store(ctx, key, v); err != nil {
		b.drv.Logger().WarnContext(ctx, "cache store failed", "key", key, "error", err)
	}
}

func (b QueryBuilder[T]) run(ctx context.Context, fn func(context.Context, *sql.Conn) error) error {
	if b.conn != nil {
		return fn(ctx, b.conn)
	}
	return b.drv.Connection(ctx, fn)
}

// wrap decorates query failures. Mapping errors already describe the row
// and are returned unchanged.
func (b QueryBuilder[T]) wrap(op string, err error) error {
	if IsMappingError(err) {
		return err
	}
	return NewQueryError(b.label, op, err)
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected count value %T", v)
	}
}
