package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore stores workflows, states and run logs in PostgreSQL.
//
// It expects an *sql.DB that uses the pgx driver. The caller is responsible
// for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open("pgx", dsn).
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s, err := newSQLStore(ctx, db, sqlDialect{
		name:              "postgres",
		rebind:            dollarPlaceholders,
		isUniqueViolation: isPostgresUniqueViolation,
	})
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}

// Persistence returns a bundle that uses s for every store.
func (s *PostgresStore) Persistence() Persistence {
	return Persistence{Workflows: s, States: s, RunLogs: s}
}

const pgUniqueViolation = "23505"

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
