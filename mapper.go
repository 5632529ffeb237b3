package kaboom

import (
	stdsql "database/sql"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/syssam/kaboom/dialect"
	"github.com/syssam/kaboom/dialect/sql"
	"github.com/syssam/kaboom/schema"
)

// RowMapper builds a record from one result row.
type RowMapper[T any] interface {
	Map(*sql.Row) (T, error)
}

// The RowMapperFunc type is an adapter to allow the use of ordinary
// functions as RowMapper.
type RowMapperFunc[T any] func(*sql.Row) (T, error)

// Map calls f(r).
func (f RowMapperFunc[T]) Map(r *sql.Row) (T, error) { return f(r) }

// Mapper is the reflective RowMapper. It reads every column of the record
// type by name, converts non-NULL values with the registry deserializers,
// and assigns them to the record fields. NULL leaves a field at its zero
// value.
//
// T is either the record struct or a pointer to it.
type Mapper[T any] struct {
	table    *schema.Table
	registry *dialect.Registry
	ptr      bool
}

// NewMapper returns the reflective mapper of T.
func NewMapper[T any](reg *dialect.Registry) (*Mapper[T], error) {
	t := reflect.TypeFor[T]()
	ptr := t.Kind() == reflect.Pointer
	if ptr && t.Elem().Kind() != reflect.Struct {
		return nil, &schema.Error{Type: t, Msg: "expect struct or pointer to struct"}
	}
	tbl, err := schema.Load(t)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = dialect.Standard()
	}
	return &Mapper[T]{table: tbl, registry: reg, ptr: ptr}, nil
}

// Table returns the table metadata the mapper reads.
func (m *Mapper[T]) Table() *schema.Table { return m.table }

// Map implements RowMapper.
func (m *Mapper[T]) Map(r *sql.Row) (T, error) {
	var zero T
	args := make([]any, len(m.table.Columns))
	for i, c := range m.table.Columns {
		v, ok := r.Value(c.Name)
		if !ok {
			return zero, m.fail(args[:i], fmt.Errorf("column %q missing from result set", c.Name))
		}
		args[i] = v
	}
	rec := reflect.New(m.table.Type).Elem()
	for i, c := range m.table.Columns {
		if args[i] == nil {
			continue
		}
		f := rec.FieldByIndex(c.Index)
		v, _, err := m.registry.Deserialize(f.Type(), args[i])
		if err != nil {
			return zero, m.fail(args, fmt.Errorf("field %s: %w", c.Field, err))
		}
		if err := assign(f, v); err != nil {
			return zero, m.fail(args, fmt.Errorf("field %s: %w", c.Field, err))
		}
	}
	if m.ptr {
		return rec.Addr().Interface().(T), nil
	}
	return rec.Interface().(T), nil
}

func (m *Mapper[T]) fail(args []any, err error) error {
	return &MappingError{Type: m.table.Type.String(), Args: args, Err: err}
}

// assign stores v into the addressable value dst, converting between the
// representations drivers commonly return and the declared field type.
func assign(dst reflect.Value, v any) error {
	if v == nil {
		return nil
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if s, ok := dst.Addr().Interface().(stdsql.Scanner); ok {
		return s.Scan(v)
	}
	switch {
	case isBytes(src.Type()) && dst.Kind() == reflect.String:
		dst.SetString(string(src.Bytes()))
		return nil
	case src.Kind() == reflect.String && isBytes(dst.Type()):
		dst.SetBytes([]byte(src.String()))
		return nil
	case isBytes(src.Type()):
		return parse(dst, string(src.Bytes()))
	case src.Kind() == reflect.String:
		return parse(dst, src.String())
	case dst.Kind() == reflect.Bool && isInt(src.Kind()):
		dst.SetBool(src.Int() != 0)
		return nil
	case isNumber(src.Kind()) && isNumber(dst.Kind()):
		return convertNumber(dst, src)
	}
	return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
}

// parse stores the text form s into dst.
func parse(dst reflect.Value, s string) error {
	switch k := dst.Kind(); {
	case k == reflect.String:
		dst.SetString(s)
	case k == reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		dst.SetBool(b)
	case isInt(k):
		n, err := strconv.ParseInt(s, 10, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetInt(n)
	case isUint(k):
		n, err := strconv.ParseUint(s, 10, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetUint(n)
	case k == reflect.Float32 || k == reflect.Float64:
		n, err := strconv.ParseFloat(s, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetFloat(n)
	default:
		return fmt.Errorf("cannot assign text to %s", dst.Type())
	}
	return nil
}

func convertNumber(dst, src reflect.Value) error {
	switch k := dst.Kind(); {
	case isInt(k):
		var n int64
		switch {
		case isInt(src.Kind()):
			n = src.Int()
		case isUint(src.Kind()):
			n = int64(src.Uint())
		default:
			f := src.Float()
			if err := integral(f, dst.Type()); err != nil {
				return err
			}
			if f < math.MinInt64 || f >= math.MaxInt64 {
				return fmt.Errorf("value %v overflows %s", src, dst.Type())
			}
			n = int64(f)
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value %v overflows %s", src, dst.Type())
		}
		dst.SetInt(n)
	case isUint(k):
		if isInt(src.Kind()) && src.Int() < 0 {
			return fmt.Errorf("value %v overflows %s", src, dst.Type())
		}
		if isFloat(src.Kind()) {
			f := src.Float()
			if err := integral(f, dst.Type()); err != nil {
				return err
			}
			if f < 0 || f >= math.MaxUint64 {
				return fmt.Errorf("value %v overflows %s", src, dst.Type())
			}
		}
		n := src.Convert(dst.Type()).Uint()
		if dst.OverflowUint(n) {
			return fmt.Errorf("value %v overflows %s", src, dst.Type())
		}
		dst.SetUint(n)
	default:
		dst.Set(src.Convert(dst.Type()))
	}
	return nil
}

// integral fails if f cannot be stored in the integer type t without
// losing its fractional part.
func integral(f float64, t reflect.Type) error {
	if f != math.Trunc(f) {
		return fmt.Errorf("value %v has a fractional part and cannot be stored in %s", f, t)
	}
	return nil
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || isFloat(k)
}
