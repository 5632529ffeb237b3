package schema

import (
	"reflect"
	"sync"
)

// Tabler is implemented by record types that declare their table name.
type Tabler interface {
	TableName() string
}

// Filterer is implemented by record types that declare a row filter.
type Filterer interface {
	RowFilter() string
}

// declaration is the direct metadata of one record type.
type declaration struct {
	table  string
	filter string
	parent reflect.Type
}

// Option configures a declaration made with Register.
type Option func(*declaration)

// WithTable sets the table name of the registered type.
func WithTable(name string) Option {
	return func(d *declaration) {
		d.table = name
	}
}

// Filter sets the row filter of the registered type. The filter is a SQL
// predicate fragment applied to every query issued for the type.
func Filter(where string) Option {
	return func(d *declaration) {
		d.filter = where
	}
}

// Parent makes the registered type inherit the table name and row filter
// it does not declare itself from P.
func Parent[P any]() Option {
	return func(d *declaration) {
		d.parent = indirect(reflect.TypeFor[P]())
	}
}

var (
	declMu       sync.RWMutex
	declarations = make(map[reflect.Type]*declaration)
)

// Register records the table declaration of T. Registered values take
// precedence over TableName and RowFilter methods.
//
// Register is meant to run during program initialization. Registering a
// type drops every cached table so that later loads observe the change.
func Register[T any](opts ...Option) {
	d := &declaration{}
	for _, opt := range opts {
		opt(d)
	}
	t := indirect(reflect.TypeFor[T]())
	declMu.Lock()
	declarations[t] = d
	declMu.Unlock()
	forget()
}

// declared returns the direct declaration of t, merging methods and
// registered options.
func declared(t reflect.Type) declaration {
	var d declaration
	if v, ok := implementer[Tabler](t); ok {
		d.table = v.TableName()
	}
	if v, ok := implementer[Filterer](t); ok {
		d.filter = v.RowFilter()
	}
	declMu.RLock()
	r, ok := declarations[t]
	declMu.RUnlock()
	if ok {
		if r.table != "" {
			d.table = r.table
		}
		if r.filter != "" {
			d.filter = r.filter
		}
		d.parent = r.parent
	}
	return d
}

// implementer returns a value of t, or of *t, implementing I.
func implementer[I any](t reflect.Type) (I, bool) {
	if t.Implements(reflect.TypeFor[I]()) {
		v, ok := reflect.Zero(t).Interface().(I)
		return v, ok
	}
	if reflect.PointerTo(t).Implements(reflect.TypeFor[I]()) {
		v, ok := reflect.New(t).Interface().(I)
		return v, ok
	}
	var zero I
	return zero, false
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
