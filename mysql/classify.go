package mysql

import (
	"database/sql/driver"
	"errors"

	"github.com/go-sql-driver/mysql"

	outbox "github.com/velmie/mutation-outbox"
)

// Server error numbers, see https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html.
const (
	errConCount          = 1040
	errDBAccessDenied    = 1044
	errAccessDenied      = 1045
	errBadNull           = 1048
	errServerShutdown    = 1053
	errBadField          = 1054
	errTableAccessDenied = 1142
	errNoSuchTable       = 1146
	errLockWaitTimeout   = 1205
	errLockDeadlock      = 1213
	errWarnDataRange     = 1264
	errTruncatedValue    = 1366
	errDataTooLong       = 1406
)

// classify marks err for the outbox. Errors it cannot place are returned unchanged and end up
// as unexpected unless outbox.Classify recognizes them.
func classify(err error) error {
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return outbox.Transient(err)
	}

	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case errConCount, errServerShutdown, errLockWaitTimeout, errLockDeadlock:
		return outbox.Transient(err)
	case errDBAccessDenied, errAccessDenied, errBadNull, errBadField, errTableAccessDenied, errNoSuchTable,
		errWarnDataRange, errTruncatedValue, errDataTooLong:
		return outbox.Permanent(err)
	default:
		return err
	}
}
