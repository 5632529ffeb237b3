// Package dialect holds the value coercion registry shared by every
// statement a driver issues.
//
// A Registry is built per database flavor and fixes three things:
//
//   - how placeholders are written (? or $n), see Registry.Rebind
//   - how generated keys are read back (RETURNING or LastInsertId)
//   - the serializers and deserializers that convert values at the
//     boundary between Go types and driver values
//
// # Supported Dialects
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Serializers
//
// Serializers are looked up by type hint. A hint is attached to a bound
// argument, or to a struct field with the type= tag option. Arguments
// without a hint, or whose hint has no serializer, are bound unchanged.
//
//	reg := dialect.PostgresRegistry()
//	v, err := reg.Serialize("jsonb", map[string]any{"city": "Paris"})
//
// # Deserializers
//
// Deserializers are looked up by the Go type a column is read into. A
// value whose target type has no deserializer is passed through as read
// from the driver.
//
//	reg := dialect.Standard().With(
//	    dialect.DeserializerFor(func(raw any) (Money, error) { ... }),
//	)
//
// Registries are immutable. With derives a new registry and leaves the
// receiver untouched, so one registry can be shared by many drivers.
package dialect
