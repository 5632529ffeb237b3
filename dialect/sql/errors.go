package sql

import (
	"errors"
	"fmt"
)

// ErrNoGeneratedKeys is returned when an INSERT asked for generated keys
// and the store reported none.
var ErrNoGeneratedKeys = errors.New("dialect/sql: no generated keys row was returned from statement")

// TxError reports a failure of the transaction machinery itself, as
// opposed to an error returned by the transaction body.
type TxError struct {
	// Op is one of begin, commit or rollback.
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TxError) Error() string {
	return fmt.Sprintf("dialect/sql: transaction failed: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TxError) Unwrap() error {
	return e.Err
}

// IsTxError returns a boolean indicating whether the error is a transaction failure.
func IsTxError(err error) bool {
	if err == nil {
		return false
	}
	var e *TxError
	return errors.As(err, &e)
}
