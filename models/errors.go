package models

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// Every stock-mutating failure wraps one of these so transport layers can map
// them without parsing messages. The wrapped message carries the caller-facing
// reason ("only 3 units available").
var (
	ErrInvalidMovement         = errors.New("invalid stock movement")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrProductNotAvailable     = errors.New("product not available")
	ErrCannotRestockSingleItem = errors.New("single item cannot be restocked")
	ErrConcurrencyTimeout      = errors.New("stock lock wait timed out, safe to retry")
	ErrSaleAlreadyReversed     = errors.New("sale already reversed")
)

const (
	mysqlErrDuplicateKeyName = 1061
	mysqlErrDuplicateKey     = 1062
	mysqlErrLockWaitTimeout  = 1205
	mysqlErrDeadlock         = 1213
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateKey
	}
	return false
}

// isDuplicateKeyNameErr recognizes re-running CREATE INDEX on an index that
// already exists.
func isDuplicateKeyNameErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateKeyName
	}
	return false
}

// translateLockErr maps bounded lock waits (and deadlock victims, which MySQL
// rolls back automatically) to the retryable ErrConcurrencyTimeout.
func translateLockErr(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		if mysqlErr.Number == mysqlErrLockWaitTimeout || mysqlErr.Number == mysqlErrDeadlock {
			return ErrConcurrencyTimeout
		}
	}
	return err
}
