package db

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Pure-Go sqlite driver; no cgo toolchain needed for corncob builds.
const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
