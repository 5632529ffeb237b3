// Package schema derives table metadata from plain Go record types.
//
// A record type is a struct whose exported fields, in declaration order,
// describe the columns of one table. Embedded structs are flattened in
// place, so their fields take the position of the embedding field.
//
// # Column Tags
//
// Columns are described with the db struct tag:
//
//	type Planet struct {
//	    ID   int64  `db:"id,generated"`
//	    Name string `db:"name"`
//	    Doc  Doc    `db:"doc,type=jsonb"`
//	    Seen bool   `db:"-"`
//	}
//
// The first tag part is the column name; an empty name keeps the Go field
// name. The remaining parts are flags:
//
//   - id: the column identifies a row (composite keys use several)
//   - generated: the store assigns the value, so INSERT skips it
//   - type=<hint>: a type hint selecting a serializer at bind time
//
// A field named ID, or one whose column resolves to "id", is an identity
// column even without the id flag. A tag of "-" ignores the field.
//
// # Table Declarations
//
// A record type has at most one direct declaration of its table name and
// row filter. It comes either from methods on the type:
//
//	func (Planet) TableName() string { return "planets" }
//	func (Planet) RowFilter() string { return "deleted_at IS NULL" }
//
// or from an explicit registration, which takes precedence:
//
//	schema.Register[Planet](schema.WithTable("planets"))
//
// Whatever a type does not declare is inherited from its registered parent,
// nearest first:
//
//	schema.Register[Parisian](
//	    schema.Parent[Person](),
//	    schema.Filter(`doc @> '{"city":"Paris"}'`),
//	)
//
// When no declaration names a table, the lower-cased type name is used.
//
// # Caching
//
// Metadata is computed once per type on first use and shared by every
// caller afterwards. Concurrent first loads of the same type are collapsed
// into a single computation.
package schema
