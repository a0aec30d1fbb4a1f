//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the cgo SQLite driver when the sqlite_vec tag is set.
const driverName = "sqlite3"

func init() {
	// Register sqlite-vec as an auto-loadable extension so every new
	// connection gets the vec0 virtual table.
	vec.Auto()
}
