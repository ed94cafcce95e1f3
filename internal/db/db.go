// Package db opens the small per-repository sqlite files corncob keeps for
// remote side-state. Each file is owned by one participant's client and
// mutated only between protocol operations, so the handle is pinned to a
// single connection: one writer means sqlite's lock contention never enters
// the picture and the busy timeout is a formality.
package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smallsea/corncob/internal/utils"
)

const defaultBusyTimeout = 5 * time.Second

type options struct {
	busyTimeout time.Duration
}

type Option func(*options)

// WithBusyTimeout overrides how long a connection waits on a locked
// database before giving up.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// Open returns a handle on the state file at path, creating it and its
// parent directory as needed. ":memory:" opens a throwaway database.
func Open(path string, opts ...Option) (*sqlx.DB, error) {
	o := options{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := path
	if path != ":memory:" {
		if err := utils.EnsureParent(path); err != nil {
			return nil, fmt.Errorf("state db parent: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path)
	}

	slog.Debug("db open", "driver", driverID, "path", path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	// single writer; also keeps the in-memory case on one shared database
	conn.SetMaxOpenConns(1)

	pragmas := fmt.Sprintf(
		"PRAGMA journal_mode=WAL; PRAGMA busy_timeout=%d; PRAGMA foreign_keys=ON;",
		o.busyTimeout.Milliseconds())
	if _, err := conn.Exec(pragmas); err != nil {
		conn.Close()
		return nil, fmt.Errorf("state db pragmas: %w", err)
	}

	return conn, nil
}
