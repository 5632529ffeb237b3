// Package sqlerr classifies constraint violations reported by the
// supported database drivers.
package sqlerr

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Kind is the class of a constraint violation.
type Kind int

// Constraint kinds.
const (
	None Kind = iota
	Unique
	ForeignKey
	Check
	NotNull
)

var kindNames = [...]string{
	None:       "none",
	Unique:     "unique",
	ForeignKey: "foreign key",
	Check:      "check",
	NotNull:    "not null",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlBadNull                = 1048
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// Classify returns the kind of constraint violated by err, or None.
func Classify(err error) Kind {
	if err == nil {
		return None
	}
	if e, ok := asError[*pq.Error](err); ok {
		return fromSQLState(string(e.Code))
	}
	if e, ok := asError[*pgconn.PgError](err); ok {
		return fromSQLState(e.Code)
	}
	if e, ok := asError[*mysql.MySQLError](err); ok {
		switch e.Number {
		case mysqlDuplicateEntry:
			return Unique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return ForeignKey
		case mysqlCheckConstraintViolate:
			return Check
		case mysqlBadNull:
			return NotNull
		}
		return None
	}
	if e, ok := asError[*sqlite.Error](err); ok {
		switch e.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return Unique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ForeignKey
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return Check
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return NotNull
		}
	}
	// Fallback to string matching for wrapped or unknown drivers.
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return Unique
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"):
		return ForeignKey
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed"):
		return Check
	case containsAny(msg, "Error 1048", "violates not-null constraint", "NOT NULL constraint failed"):
		return NotNull
	}
	return None
}

func fromSQLState(code string) Kind {
	switch code {
	case pgUniqueViolation:
		return Unique
	case pgForeignKeyViolation:
		return ForeignKey
	case pgCheckViolation:
		return Check
	case pgNotNullViolation:
		return NotNull
	}
	return None
}

// Constraint returns the name of the violated constraint when the driver
// reports one.
func Constraint(err error) string {
	if e, ok := asError[*pq.Error](err); ok {
		return e.Constraint
	}
	if e, ok := asError[*pgconn.PgError](err); ok {
		return e.ConstraintName
	}
	return ""
}

// IsConstraintError reports if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return Classify(err) != None
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return Classify(err) == Unique
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return Classify(err) == ForeignKey
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
// e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	return Classify(err) == Check
}

// asError extracts an error of type T from the error chain.
func asError[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
