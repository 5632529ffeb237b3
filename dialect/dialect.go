package dialect

import (
	"fmt"
	"maps"
	"reflect"
	"strings"
)

// Dialect names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// Placeholder is the style of positional parameters a dialect accepts.
type Placeholder int

// Placeholder styles.
const (
	// Question writes every parameter as ?.
	Question Placeholder = iota
	// Dollar writes parameters as $1, $2, ...
	Dollar
)

// Keys is the way a dialect reports keys assigned by an INSERT.
type Keys int

// Key retrieval modes.
const (
	// LastInsertID reads the single key from sql.Result.LastInsertId.
	LastInsertID Keys = iota
	// Returning appends a RETURNING clause and reads the keys as a row.
	Returning
)

// Serializer converts a value into one the underlying driver can bind.
type Serializer interface {
	Serialize(v any) (any, error)
}

// SerializerFunc is an adapter to allow the use of ordinary functions as Serializer.
type SerializerFunc func(any) (any, error)

// Serialize calls f(v).
func (f SerializerFunc) Serialize(v any) (any, error) { return f(v) }

// Deserializer converts a raw driver value into a value of its target type.
type Deserializer interface {
	Deserialize(raw any) (any, error)
}

// DeserializerFunc is an adapter to allow the use of ordinary functions as Deserializer.
type DeserializerFunc func(any) (any, error)

// Deserialize calls f(raw).
func (f DeserializerFunc) Deserialize(raw any) (any, error) { return f(raw) }

// Registry is an immutable set of coercions and statement conventions for
// one database flavor.
type Registry struct {
	name          string
	placeholder   Placeholder
	keys          Keys
	serializers   map[string]Serializer
	deserializers map[reflect.Type]Deserializer
}

// Option configures a Registry.
type Option func(*Registry)

// WithName sets the dialect name reported by the registry.
func WithName(name string) Option {
	return func(r *Registry) {
		r.name = name
	}
}

// WithPlaceholder sets the placeholder style.
func WithPlaceholder(p Placeholder) Option {
	return func(r *Registry) {
		r.placeholder = p
	}
}

// WithKeys sets the generated-key retrieval mode.
func WithKeys(k Keys) Option {
	return func(r *Registry) {
		r.keys = k
	}
}

// WithSerializer registers s for the type hint. A later registration for
// the same hint replaces the earlier one.
func WithSerializer(hint string, s Serializer) Option {
	return func(r *Registry) {
		r.serializers[hint] = s
	}
}

// WithDeserializer registers d for values read into t.
func WithDeserializer(t reflect.Type, d Deserializer) Option {
	return func(r *Registry) {
		r.deserializers[t] = d
	}
}

// DeserializerFor registers fn for values read into T.
func DeserializerFor[T any](fn func(raw any) (T, error)) Option {
	return WithDeserializer(reflect.TypeFor[T](), DeserializerFunc(func(raw any) (any, error) {
		return fn(raw)
	}))
}

// New returns a registry configured by opts. It holds no coercions unless
// opts add them; see Standard for the common base set.
func New(opts ...Option) *Registry {
	r := &Registry{
		serializers:   make(map[string]Serializer),
		deserializers: make(map[reflect.Type]Deserializer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// With returns a copy of r extended by opts.
func (r *Registry) With(opts ...Option) *Registry {
	c := &Registry{
		name:          r.name,
		placeholder:   r.placeholder,
		keys:          r.keys,
		serializers:   maps.Clone(r.serializers),
		deserializers: maps.Clone(r.deserializers),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the dialect name.
func (r *Registry) Name() string { return r.name }

// Placeholder returns the placeholder style.
func (r *Registry) Placeholder() Placeholder { return r.placeholder }

// Keys returns the generated-key retrieval mode.
func (r *Registry) Keys() Keys { return r.keys }

// Serialize converts v with the serializer registered for hint. A value
// without a hint, or whose hint has no serializer, is returned unchanged.
func (r *Registry) Serialize(hint string, v any) (any, error) {
	if hint == "" || v == nil {
		return v, nil
	}
	s, ok := r.serializers[hint]
	if !ok {
		return v, nil
	}
	out, err := s.Serialize(v)
	if err != nil {
		return nil, fmt.Errorf("dialect: serialize %T as %q: %w", v, hint, err)
	}
	return out, nil
}

// Deserialize converts raw into a value of type t with the registered
// deserializer. Pointer types use the deserializer of their element type.
// The second result reports whether a deserializer was applied; when it is
// false raw is returned unchanged.
func (r *Registry) Deserialize(t reflect.Type, raw any) (any, bool, error) {
	if raw == nil || t == nil {
		return raw, false, nil
	}
	d, ok := r.deserializers[t]
	if !ok && t.Kind() == reflect.Pointer {
		d, ok = r.deserializers[t.Elem()]
	}
	if !ok {
		return raw, false, nil
	}
	v, err := d.Deserialize(raw)
	if err != nil {
		return nil, false, fmt.Errorf("dialect: deserialize %T into %s: %w", raw, t, err)
	}
	return v, true, nil
}

// HasSerializer reports whether a serializer is registered for hint.
func (r *Registry) HasSerializer(hint string) bool {
	_, ok := r.serializers[hint]
	return ok
}

// ForName returns the registry of a dialect or driver name. Driver names
// such as pgx or sqlite3 resolve to the dialect they speak.
func ForName(name string) (*Registry, error) {
	switch strings.ToLower(name) {
	case Postgres, "postgresql", "pgx":
		return PostgresRegistry(), nil
	case MySQL:
		return MySQLRegistry(), nil
	case SQLite, "sqlite3":
		return SQLiteRegistry(), nil
	default:
		return nil, fmt.Errorf("dialect: unsupported dialect %q", name)
	}
}
