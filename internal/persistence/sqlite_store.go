package persistence

import (
	"context"
	"database/sql"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore stores workflows, states and run logs in SQLite.
//
// It expects an *sql.DB that uses the "modernc.org/sqlite" driver. The
// caller is responsible for importing the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// In-memory databases must be limited to one connection
// (db.SetMaxOpenConns(1)), otherwise each connection sees its own database.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s, err := newSQLStore(ctx, db, sqlDialect{
		name:              "sqlite",
		rebind:            questionMarks,
		isUniqueViolation: isSQLiteUniqueViolation,
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStore: s}, nil
}

// Persistence returns a bundle that uses s for every store. Entity lookups
// are left to the caller.
func (s *SQLiteStore) Persistence() Persistence {
	return Persistence{Workflows: s, States: s, RunLogs: s}
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
