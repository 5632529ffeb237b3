package kaboom

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/syssam/kaboom/contrib/dataloader"
	"github.com/syssam/kaboom/dialect"
	"github.com/syssam/kaboom/dialect/sql"
	"github.com/syssam/kaboom/schema"
)

// maxBatch bounds the keys bound in one LoadBatch statement.
const maxBatch = 500

// Repository exposes the queries and mutations of one record type T,
// identified by keys of type K.
type Repository[T any, K comparable] struct {
	drv    *sql.Driver
	table  *schema.Table
	name   string
	filter string
	label  string
	mapper RowMapper[T]
	cache  *resultCache
}

type repositoryConfig struct {
	table  string
	filter string
	mapper any
	cache  *resultCache
}

// Option configures a Repository.
type Option func(*repositoryConfig)

// WithTable overrides the table name declared by the record type.
func WithTable(name string) Option {
	return func(c *repositoryConfig) {
		c.table = name
	}
}

// WithFilter overrides the row filter declared by the record type.
func WithFilter(where string) Option {
	return func(c *repositoryConfig) {
		c.filter = where
	}
}

// WithRowMapper replaces the reflective row mapper. The mapper must build
// records of the repository type.
func WithRowMapper[T any](m RowMapper[T]) Option {
	return func(c *repositoryConfig) {
		c.mapper = m
	}
}

// WithCache caches the results of the repository queries in c for ttl.
// Every successful mutation of the repository drops the cached results of
// its table.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(cfg *repositoryConfig) {
		cfg.cache = &resultCache{cache: c, ttl: ttl}
	}
}

// NewRepository returns the repository of T on drv. It fails if T cannot
// be mapped to a table.
func NewRepository[T any, K comparable](drv *sql.Driver, opts ...Option) (*Repository[T, K], error) {
	cfg := &repositoryConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	var (
		mapper RowMapper[T]
		tbl    *schema.Table
	)
	switch m := cfg.mapper.(type) {
	case nil:
		rm, err := NewMapper[T](drv.Registry())
		if err != nil {
			return nil, err
		}
		mapper, tbl = rm, rm.Table()
	case RowMapper[T]:
		t, err := schema.For[T]()
		if err != nil {
			return nil, err
		}
		mapper, tbl = m, t
	default:
		return nil, fmt.Errorf("kaboom: row mapper %T does not build %s", cfg.mapper, reflect.TypeFor[T]())
	}
	r := &Repository[T, K]{
		drv:    drv,
		table:  tbl,
		name:   tbl.Name,
		filter: tbl.Filter,
		label:  tbl.Label(),
		mapper: mapper,
		cache:  cfg.cache,
	}
	if cfg.table != "" {
		r.name = cfg.table
	}
	if cfg.filter != "" {
		r.filter = cfg.filter
	}
	return r, nil
}

// MustRepository is like NewRepository but panics if T cannot be mapped.
func MustRepository[T any, K comparable](drv *sql.Driver, opts ...Option) *Repository[T, K] {
	r, err := NewRepository[T, K](drv, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Driver returns the driver the repository runs on.
func (r *Repository[T, K]) Driver() *sql.Driver { return r.drv }

// Table returns the metadata of the record type.
func (r *Repository[T, K]) Table() *schema.Table { return r.table }

// TableName returns the resolved table name.
func (r *Repository[T, K]) TableName() string { return r.name }

// Filter returns the resolved row filter, or empty.
func (r *Repository[T, K]) Filter() string { return r.filter }

// Query returns a builder selecting every column of the table, with the
// row filter already applied.
func (r *Repository[T, K]) Query() QueryBuilder[T] {
	b := NewQueryBuilder(r.drv, r.mapper, r.name, r.label, NewQuery("SELECT * FROM "+r.name))
	if r.filter != "" {
		// Later fragments are joined with AND.
		b = b.Where("(" + r.filter + ")")
	}
	if r.cache != nil {
		b.cache = r.cache
	}
	return b
}

// WithID returns the record with the given identity. A missing record
// fails with a *NotFoundError.
func (r *Repository[T, K]) WithID(ctx context.Context, id K) (T, error) {
	v, err := r.Query().Where(r.idName() + " = ?").Argument(id).Single(ctx)
	if err != nil && IsNotFound(err) {
		return v, NewNotFoundErrorWithID(r.label, id)
	}
	return v, err
}

// Where returns the records matching the predicate, which is added to the
// row filter.
func (r *Repository[T, K]) Where(ctx context.Context, where string, args ...any) ([]T, error) {
	return r.Query().Where(where).Arguments(args...).Execute(ctx)
}

// Count returns the number of records passing the row filter.
func (r *Repository[T, K]) Count(ctx context.Context) (int64, error) {
	return r.Query().Count(ctx)
}

// CountWhere returns the number of records matching the predicate.
func (r *Repository[T, K]) CountWhere(ctx context.Context, where string, args ...any) (int64, error) {
	return r.Query().Where(where).Arguments(args...).Count(ctx)
}

// LoadBatch returns the records of the given keys, in key order, with one
// error per key that has no record. It has the shape of a DataLoader
// batch function.
func (r *Repository[T, K]) LoadBatch(ctx context.Context, ids []K) ([]T, []error) {
	col := r.idColumn()
	if col == nil {
		return nil, dataloader.Fail(len(ids), NewQueryError(r.label, "batch", ErrNoIdentity))
	}
	var values []T
	for _, chunk := range dataloader.Chunk(dataloader.Unique(ids), maxBatch) {
		if len(chunk) == 0 {
			continue
		}
		vs, err := r.Query().Match(Field[K](col.Name).In(chunk...)).Execute(ctx)
		if err != nil {
			return nil, dataloader.Fail(len(ids), err)
		}
		values = append(values, vs...)
	}
	found := make(map[K]T, len(values))
	for _, v := range values {
		k, err := r.keyOf(col, v)
		if err != nil {
			return nil, dataloader.Fail(len(ids), NewQueryError(r.label, "batch", fmt.Errorf("decode key: %w", err)))
		}
		found[k] = v
	}
	return dataloader.OrderByLookup(ids, found, func(id K) error {
		return NewNotFoundErrorWithID(r.label, id)
	})
}

// Insert writes entity, skipping generated columns.
func (r *Repository[T, K]) Insert(ctx context.Context, entity T) error {
	query, args, err := r.insert(entity)
	if err != nil {
		return err
	}
	err = r.drv.Connection(ctx, func(ctx context.Context, c *sql.Conn) error {
		return c.Insert(ctx, query, args)
	})
	if err != nil {
		return NewMutationError(r.label, "insert", err)
	}
	r.invalidate(ctx)
	return nil
}

// InsertAndGet writes entity and returns it as stored, with generated
// columns filled in. The insert and the lookup share one connection.
//
// Record types without exactly one identity column cannot be looked up
// after insertion and fail with a *NotFoundError.
func (r *Repository[T, K]) InsertAndGet(ctx context.Context, entity T) (T, error) {
	var out T
	ids := r.table.IDs()
	if len(ids) != 1 {
		return out, NewNotFoundError(r.label)
	}
	col := ids[0]
	query, args, err := r.insert(entity)
	if err != nil {
		return out, err
	}
	err = r.drv.Connection(ctx, func(ctx context.Context, c *sql.Conn) error {
		var (
			key K
			err error
		)
		if col.Generated {
			keys, ierr := c.InsertReturning(ctx, query, args, col.Name)
			if ierr != nil {
				return NewMutationError(r.label, "insert", ierr)
			}
			if key, err = decodeKey[K](r.drv.Registry(), keys[0]); err != nil {
				return NewMutationError(r.label, "insert", fmt.Errorf("decode generated key: %w", err))
			}
		} else {
			if err := c.Insert(ctx, query, args); err != nil {
				return NewMutationError(r.label, "insert", err)
			}
			if key, err = r.keyOf(col, entity); err != nil {
				return NewMutationError(r.label, "insert", err)
			}
		}
		out, err = r.Query().on(c).Where(col.Name + " = ?").Argument(key).Single(ctx)
		if err != nil && IsNotFound(err) {
			return NewNotFoundErrorWithID(r.label, key)
		}
		return err
	})
	if err == nil {
		r.invalidate(ctx)
	}
	return out, err
}

// Update writes every non-identity column of entity to the row addressed
// by its identity columns.
func (r *Repository[T, K]) Update(ctx context.Context, entity T) error {
	ids, cols := r.table.IDs(), r.table.Updatable()
	if len(ids) == 0 {
		return NewMutationError(r.label, "update", ErrNoIdentity)
	}
	if len(cols) == 0 {
		return NewMutationError(r.label, "update", errors.New("no updatable columns"))
	}
	rv, err := r.record(entity)
	if err != nil {
		return err
	}
	sets := make([]string, len(cols))
	wheres := make([]string, len(ids))
	args := make([]sql.Argument, 0, len(cols)+len(ids))
	for i, c := range cols {
		sets[i] = c.Name + " = ?"
		args = append(args, sql.HintedArg(c.Value(rv), c.TypeHint))
	}
	for i, c := range ids {
		wheres[i] = c.Name + " = ?"
		args = append(args, sql.HintedArg(c.Value(rv), c.TypeHint))
	}
	query := "UPDATE " + r.name + " SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(wheres, " AND ")
	err = r.drv.Connection(ctx, func(ctx context.Context, c *sql.Conn) error {
		_, err := c.Update(ctx, query, args)
		return err
	})
	if err != nil {
		return NewMutationError(r.label, "update", err)
	}
	r.invalidate(ctx)
	return nil
}

// Transaction runs fn in a transaction. Repository calls made with the
// context fn receives, on this or any repository sharing the driver, join
// the transaction.
func (r *Repository[T, K]) Transaction(ctx context.Context, fn func(context.Context, *Repository[T, K]) error) error {
	err := r.drv.Transaction(ctx, func(ctx context.Context, _ *sql.Conn) error {
		return fn(ctx, r)
	})
	if err == nil && !r.drv.InTransaction(ctx) {
		// Results cached while the transaction was open may predate its writes.
		r.invalidate(ctx)
	}
	return err
}

// invalidate drops the cached results of the table.
func (r *Repository[T, K]) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.cache.DeletePrefix(ctx, CachePrefix(r.name)); err != nil {
		r.drv.Logger().WarnContext(ctx, "cache invalidation failed", "table", r.name, "error", err)
	}
}

// insert builds the INSERT statement of entity.
func (r *Repository[T, K]) insert(entity T) (string, []sql.Argument, error) {
	rv, err := r.record(entity)
	if err != nil {
		return "", nil, err
	}
	cols := r.table.Insertable()
	if len(cols) == 0 {
		if r.drv.Dialect() == dialect.MySQL {
			return "INSERT INTO " + r.name + " () VALUES ()", nil, nil
		}
		return "INSERT INTO " + r.name + " DEFAULT VALUES", nil, nil
	}
	names := make([]string, len(cols))
	args := make([]sql.Argument, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		args[i] = sql.HintedArg(c.Value(rv), c.TypeHint)
	}
	query := "INSERT INTO " + r.name + " (" + strings.Join(names, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"
	return query, args, nil
}

// record returns the struct value held by entity.
func (r *Repository[T, K]) record(entity T) (reflect.Value, error) {
	rv := reflect.ValueOf(entity)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, NewMutationError(r.label, "bind", errors.New("nil record"))
		}
		rv = rv.Elem()
	}
	return rv, nil
}

// idColumn returns the single identity column, or the column named id.
func (r *Repository[T, K]) idColumn() *schema.Column {
	if ids := r.table.IDs(); len(ids) == 1 {
		return ids[0]
	}
	c, _ := r.table.Column("id")
	return c
}

func (r *Repository[T, K]) idName() string {
	if c := r.idColumn(); c != nil {
		return c.Name
	}
	return "id"
}

// keyOf returns the key held by the column col of entity.
func (r *Repository[T, K]) keyOf(col *schema.Column, entity T) (K, error) {
	rv, err := r.record(entity)
	if err != nil {
		var zero K
		return zero, err
	}
	return decodeKey[K](r.drv.Registry(), col.Value(rv))
}

// decodeKey converts a raw key value into K.
func decodeKey[K any](reg *dialect.Registry, raw any) (K, error) {
	var key K
	if k, ok := raw.(K); ok {
		return k, nil
	}
	v, _, err := reg.Deserialize(reflect.TypeFor[K](), raw)
	if err != nil {
		return key, err
	}
	if err := assign(reflect.ValueOf(&key).Elem(), v); err != nil {
		return key, err
	}
	return key, nil
}
