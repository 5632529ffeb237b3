package schema

import (
	"errors"
	"fmt"
	"reflect"
)

// Column maps one result-set column to one field of a record type.
type Column struct {
	// Field is the Go name of the struct field.
	Field string
	// Type is the declared type of the struct field.
	Type reflect.Type
	// Name is the resolved column name.
	Name string
	// Index is the field index path, as used by reflect.Value.FieldByIndex.
	Index []int
	// ID reports whether the column identifies a row.
	ID bool
	// Generated reports whether the store assigns the column value.
	Generated bool
	// TypeHint selects a serializer when the value is bound.
	TypeHint string
}

// Value returns the column value held by the record v.
// v must be a struct value of the table's record type.
func (c *Column) Value(v reflect.Value) any {
	return v.FieldByIndex(c.Index).Interface()
}

// Table is the metadata of one record type.
// It is immutable once returned by Load.
type Table struct {
	// Name is the resolved table name.
	Name string
	// Filter is the resolved row filter, or empty.
	Filter string
	// Type is the record struct type.
	Type reflect.Type
	// Columns holds the mapped fields in declaration order.
	Columns []*Column

	ids        []*Column
	insertable []*Column
	updatable  []*Column
	byName     map[string]*Column
}

// IDs returns the identity columns.
func (t *Table) IDs() []*Column { return t.ids }

// Insertable returns the columns written by INSERT, skipping generated ones.
func (t *Table) Insertable() []*Column { return t.insertable }

// Updatable returns the columns written by UPDATE, skipping identity ones.
func (t *Table) Updatable() []*Column { return t.updatable }

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// ColumnNames returns the names of all columns in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Label returns the name of the record type, used in error messages.
func (t *Table) Label() string {
	if t.Type == nil {
		return t.Name
	}
	return t.Type.Name()
}

func (t *Table) index() {
	t.byName = make(map[string]*Column, len(t.Columns))
	for _, c := range t.Columns {
		t.byName[c.Name] = c
		if c.ID {
			t.ids = append(t.ids, c)
		} else {
			t.updatable = append(t.updatable, c)
		}
		if !c.Generated {
			t.insertable = append(t.insertable, c)
		}
	}
}

// ErrInvalidType is matched by every Error returned from Load.
var ErrInvalidType = errors.New("schema: invalid record type")

// Error reports a record type that cannot be mapped to a table.
// It signals a programming error rather than a runtime condition.
type Error struct {
	Type  reflect.Type
	Field string
	Msg   string
}

// Error returns the error string.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema: %s.%s: %s", e.Type, e.Field, e.Msg)
	}
	return fmt.Sprintf("schema: %s: %s", e.Type, e.Msg)
}

// Is reports whether the target error is ErrInvalidType.
func (e *Error) Is(err error) bool {
	return err == ErrInvalidType
}
