package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const tagName = "db"

var (
	tables sync.Map // map[reflect.Type]*Table
	group  singleflight.Group
	lower  = cases.Lower(language.Und)
)

// For returns the table metadata of T. See Load.
func For[T any]() (*Table, error) {
	return Load(reflect.TypeFor[T]())
}

// Load returns the table metadata of the record type t. Pointer types are
// dereferenced. The result is computed once and cached; concurrent first
// loads of the same type share one computation.
func Load(t reflect.Type) (*Table, error) {
	t = indirect(t)
	if t == nil {
		return nil, &Error{Msg: "nil type"}
	}
	if v, ok := tables.Load(t); ok {
		return v.(*Table), nil
	}
	v, err, _ := group.Do(key(t), func() (any, error) {
		if v, ok := tables.Load(t); ok {
			return v, nil
		}
		tbl, err := build(t)
		if err != nil {
			return nil, err
		}
		v, _ := tables.LoadOrStore(t, tbl)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	// Distinct local types may share a key.
	if tbl := v.(*Table); tbl.Type == t {
		return tbl, nil
	}
	tbl, err := build(t)
	if err != nil {
		return nil, err
	}
	v, _ = tables.LoadOrStore(t, tbl)
	return v.(*Table), nil
}

// MustLoad is like Load but panics if the type cannot be mapped.
func MustLoad(t reflect.Type) *Table {
	tbl, err := Load(t)
	if err != nil {
		panic(err)
	}
	return tbl
}

// forget drops every cached table.
func forget() {
	tables.Clear()
}

func key(t reflect.Type) string {
	return t.PkgPath() + "." + t.String()
}

func build(t reflect.Type) (*Table, error) {
	if t.Kind() != reflect.Struct {
		return nil, &Error{Type: t, Msg: fmt.Sprintf("expect struct type, got %s", t.Kind())}
	}
	tbl := &Table{Type: t}
	if err := collect(t, nil, tbl, make(map[string]string)); err != nil {
		return nil, err
	}
	if len(tbl.Columns) == 0 {
		return nil, &Error{Type: t, Msg: "no mappable fields"}
	}
	name, filter, err := resolve(t)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = lower.String(t.Name())
	}
	tbl.Name, tbl.Filter = name, filter
	tbl.index()
	return tbl, nil
}

// collect appends the columns of t to tbl, flattening embedded structs.
// seen maps column names to the field that declared them.
func collect(t reflect.Type, index []int, tbl *Table, seen map[string]string) error {
	for i := range t.NumField() {
		f := t.Field(i)
		tag, tagged := f.Tag.Lookup(tagName)
		if tag == "-" {
			continue
		}
		path := append(index[:len(index):len(index)], i)
		if f.Anonymous && !tagged {
			ft := f.Type
			if ft.Kind() == reflect.Struct {
				if err := collect(ft, path, tbl, seen); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		c, err := column(f, tag)
		if err != nil {
			return &Error{Type: tbl.Type, Field: f.Name, Msg: err.Error()}
		}
		if prev, ok := seen[c.Name]; ok {
			return &Error{Type: tbl.Type, Field: f.Name, Msg: fmt.Sprintf("column %q already mapped by field %s", c.Name, prev)}
		}
		seen[c.Name] = f.Name
		c.Index = path
		tbl.Columns = append(tbl.Columns, c)
	}
	return nil
}

// column parses the db tag of the field f.
func column(f reflect.StructField, tag string) (*Column, error) {
	parts := strings.Split(tag, ",")
	c := &Column{
		Field: f.Name,
		Type:  f.Type,
		Name:  strings.TrimSpace(parts[0]),
	}
	if c.Name == "-" {
		return nil, fmt.Errorf("ignored field cannot carry flags %q", tag)
	}
	if c.Name == "" {
		c.Name = f.Name
	}
	for _, p := range parts[1:] {
		switch p = strings.TrimSpace(p); {
		case p == "id":
			c.ID = true
		case p == "generated":
			c.Generated = true
		case strings.HasPrefix(p, "type="):
			c.TypeHint = strings.TrimPrefix(p, "type=")
			if c.TypeHint == "" {
				return nil, fmt.Errorf("empty type hint in %q", tag)
			}
		case p == "":
		default:
			return nil, fmt.Errorf("unknown tag option %q", p)
		}
	}
	if f.Name == "ID" || c.Name == "id" {
		c.ID = true
	}
	return c, nil
}

// resolve returns the table name and row filter of t, delegating whatever
// t does not declare to its registered parent chain.
func resolve(t reflect.Type) (name, filter string, err error) {
	visited := make(map[reflect.Type]bool)
	for cur := t; cur != nil && (name == "" || filter == ""); {
		if visited[cur] {
			return "", "", &Error{Type: t, Msg: fmt.Sprintf("cyclic parent declaration through %s", cur)}
		}
		visited[cur] = true
		d := declared(cur)
		if name == "" {
			name = d.table
		}
		if filter == "" {
			filter = d.filter
		}
		cur = d.parent
	}
	return name, filter, nil
}
