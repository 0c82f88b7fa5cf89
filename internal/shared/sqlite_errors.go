// Package shared classifies SQLite driver errors for the store and its callers.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// IsSQLiteBusyError reports a SQLITE_BUSY error from another connection
// holding the write lock.
func IsSQLiteBusyError(err error) bool {
	return errorContains(err, "SQLITE_BUSY")
}

// IsSQLiteLockedError reports the "database is locked" form of contention.
func IsSQLiteLockedError(err error) bool {
	return errorContains(err, "database is locked")
}

// IsSQLiteConflictError reports transient lock contention worth retrying.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// IsSQLiteConstraintError reports a UNIQUE or PRIMARY KEY violation. Retrying
// the same write cannot succeed.
func IsSQLiteConstraintError(err error) bool {
	return errorContains(err, "UNIQUE constraint failed") ||
		errorContains(err, "SQLITE_CONSTRAINT")
}

func errorContains(err error, substr string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), substr)
}
