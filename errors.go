package kaboom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/kaboom/dialect/sql"
	"github.com/syssam/kaboom/dialect/sql/sqlerr"
	"github.com/syssam/kaboom/schema"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("kaboom: record not found")

	// ErrEmptyCount is returned when a count query yields no row, which
	// points at a broken statement or driver rather than an empty table.
	ErrEmptyCount = errors.New("kaboom: count query returned no rows")

	// ErrNoIdentity is returned when an operation needs identity columns
	// and the record type declares none.
	ErrNoIdentity = errors.New("kaboom: record type has no identity column")
)

type (
	// SchemaError reports a record type that cannot be mapped to a table.
	SchemaError = schema.Error
	// TxError reports a failure to begin, commit or roll back a transaction.
	TxError = sql.TxError
)

// IsTxError returns true if the error is a transaction failure.
func IsTxError(err error) bool {
	return sql.IsTxError(err)
}

// NotFoundError represents an error when a record is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("kaboom: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("kaboom: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the record label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given record type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	Kind sqlerr.Kind
	// Name is the violated constraint, when the driver reports it.
	Name string
	wrap error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("kaboom: %s constraint %q failed: %v", e.Kind, e.Name, e.wrap)
	}
	return fmt.Sprintf("kaboom: %s constraint failed: %v", e.Kind, e.wrap)
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a ConstraintError if err is a constraint
// violation, and err unchanged otherwise.
func NewConstraintError(err error) error {
	kind := sqlerr.Classify(err)
	if kind == sqlerr.None {
		return err
	}
	return &ConstraintError{Kind: kind, Name: sqlerr.Constraint(err), wrap: err}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintError
	return errors.As(err, &e)
}

// IsUniqueConstraintError returns true if the error is a uniqueness violation.
func IsUniqueConstraintError(err error) bool {
	var e *ConstraintError
	return errors.As(err, &e) && e.Kind == sqlerr.Unique
}

// MappingError reports a row that could not be turned into a record.
// It lists the column values read from the row with their runtime types.
type MappingError struct {
	Type string // Record type being built
	Args []any  // Values read from the row, in column order
	Err  error  // Underlying error
}

// Error returns the error string.
func (e *MappingError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "kaboom: cannot map row into %s: %v", e.Type, e.Err)
	if len(e.Args) > 0 {
		sb.WriteString("\nactual arguments:")
		for _, a := range e.Args {
			fmt.Fprintf(&sb, "\n- %T : %v", a, a)
		}
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MappingError) Unwrap() error {
	return e.Err
}

// IsMappingError returns true if the error is a MappingError.
func IsMappingError(err error) bool {
	if err == nil {
		return false
	}
	var e *MappingError
	return errors.As(err, &e)
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Entity string // Record type being queried
	Op     string // Operation (e.g., "select", "count", "single")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("kaboom: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("kaboom: querying %s: %v", e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps a mutation error with additional context.
type MutationError struct {
	Entity string // Record type being mutated
	Op     string // Operation (e.g., "insert", "update")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("kaboom: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError. Constraint violations in
// err are surfaced as a ConstraintError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: NewConstraintError(err)}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}
