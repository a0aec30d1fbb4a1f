//go:build !sqlite_vec

package store

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go SQLite driver. FTS5 is built in; the vec0
// extension is not, so vector features require the sqlite_vec build tag.
const driverName = "sqlite"
