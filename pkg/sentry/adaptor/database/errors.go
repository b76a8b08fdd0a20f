package database

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// MySQL server error code for "table doesn't exist".
const mysqlErrNoSuchTable = 1146

// IsTableMissing reports whether err indicates the queried table does not
// exist in the store. Used to distinguish misconfiguration from transient
// connectivity failures.
func IsTableMissing(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrNoSuchTable
	}
	// sqlite reports missing tables as a plain error string.
	return strings.Contains(err.Error(), "no such table")
}
