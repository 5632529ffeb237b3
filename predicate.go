package kaboom

import (
	"strings"
)

// Predicate is a WHERE fragment with the arguments bound by its
// placeholders, in order.
type Predicate struct {
	SQL  string
	Args []any
}

// Field is a column holding values of type V. It builds predicates whose
// arguments are typed, so placeholders and arguments cannot drift apart.
//
// Usage:
//
//	var Mass = kaboom.Field[float64]("mass")
//	planets.Query().Match(Mass.GT(1e24)).Execute(ctx)
type Field[V any] string

// Name returns the column name.
func (f Field[V]) Name() string { return string(f) }

// EQ returns a predicate that checks if the column equals v.
func (f Field[V]) EQ(v V) Predicate { return f.op("=", v) }

// NEQ returns a predicate that checks if the column does not equal v.
func (f Field[V]) NEQ(v V) Predicate { return f.op("<>", v) }

// GT returns a predicate that checks if the column is greater than v.
func (f Field[V]) GT(v V) Predicate { return f.op(">", v) }

// GTE returns a predicate that checks if the column is greater than or equal to v.
func (f Field[V]) GTE(v V) Predicate { return f.op(">=", v) }

// LT returns a predicate that checks if the column is less than v.
func (f Field[V]) LT(v V) Predicate { return f.op("<", v) }

// LTE returns a predicate that checks if the column is less than or equal to v.
func (f Field[V]) LTE(v V) Predicate { return f.op("<=", v) }

// In returns a predicate that checks if the column is one of vs. An empty
// list matches no row.
func (f Field[V]) In(vs ...V) Predicate { return f.in("IN", "1 = 0", vs) }

// NotIn returns a predicate that checks if the column is none of vs. An
// empty list matches every row.
func (f Field[V]) NotIn(vs ...V) Predicate { return f.in("NOT IN", "1 = 1", vs) }

// IsNull returns a predicate that checks if the column is NULL.
func (f Field[V]) IsNull() Predicate { return Predicate{SQL: string(f) + " IS NULL"} }

// NotNull returns a predicate that checks if the column is not NULL.
func (f Field[V]) NotNull() Predicate { return Predicate{SQL: string(f) + " IS NOT NULL"} }

func (f Field[V]) op(op string, v V) Predicate {
	return Predicate{SQL: string(f) + " " + op + " ?", Args: []any{v}}
}

func (f Field[V]) in(op, empty string, vs []V) Predicate {
	if len(vs) == 0 {
		return Predicate{SQL: empty}
	}
	args := make([]any, len(vs))
	for i, v := range vs {
		args[i] = v
	}
	return Predicate{SQL: string(f) + " " + op + " (" + placeholders(len(vs)) + ")", Args: args}
}

// StringField is a text column. It adds pattern predicates to Field.
type StringField string

// Field returns the column as a plain field.
func (f StringField) Field() Field[string] { return Field[string](f) }

// EQ returns a predicate that checks if the column equals v.
func (f StringField) EQ(v string) Predicate { return f.Field().EQ(v) }

// In returns a predicate that checks if the column is one of vs.
func (f StringField) In(vs ...string) Predicate { return f.Field().In(vs...) }

// Contains returns a predicate that checks if the column contains v.
func (f StringField) Contains(v string) Predicate { return f.like("%" + escapeLike(v) + "%") }

// HasPrefix returns a predicate that checks if the column starts with v.
func (f StringField) HasPrefix(v string) Predicate { return f.like(escapeLike(v) + "%") }

// HasSuffix returns a predicate that checks if the column ends with v.
func (f StringField) HasSuffix(v string) Predicate { return f.like("%" + escapeLike(v)) }

func (f StringField) like(pattern string) Predicate {
	return Predicate{SQL: string(f) + " LIKE ? ESCAPE '!'", Args: []any{pattern}}
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// And returns a predicate matching rows that match every p.
func And(ps ...Predicate) Predicate { return join(" AND ", "1 = 1", ps) }

// Or returns a predicate matching rows that match any p.
func Or(ps ...Predicate) Predicate { return join(" OR ", "1 = 0", ps) }

// Not returns a predicate matching rows that do not match p.
func Not(p Predicate) Predicate {
	return Predicate{SQL: "NOT (" + p.SQL + ")", Args: p.Args}
}

func join(sep, empty string, ps []Predicate) Predicate {
	switch len(ps) {
	case 0:
		return Predicate{SQL: empty}
	case 1:
		return ps[0]
	}
	var (
		parts = make([]string, len(ps))
		args  []any
	)
	for i, p := range ps {
		parts[i] = "(" + p.SQL + ")"
		args = append(args, p.Args...)
	}
	return Predicate{SQL: strings.Join(parts, sep), Args: args}
}

// placeholders returns n comma-separated ? placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
