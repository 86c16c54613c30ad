package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/tickflow/internal/config"
	"github.com/petrijr/tickflow/internal/lock"
	"github.com/petrijr/tickflow/internal/persistence"
)

type backend struct {
	persistence persistence.Persistence
	locker      lock.Locker
	closers     []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects the configured store and tick locker. Without a
// Redis address, withLocalLock selects a process-local locker; otherwise
// tenant leases are disabled.
func openBackend(ctx context.Context, cfg *config.Config, withLocalLock bool) (*backend, error) {
	b := &backend{}
	ok := false
	defer func() {
		if !ok {
			b.close()
		}
	}()

	switch cfg.Store.Driver {
	case "memory":
		p := persistence.NewInMemoryStore().Persistence()
		p.Entities = nil
		b.persistence = p

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Store.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		b.closers = append(b.closers, func() { _ = db.Close() })
		store, err := persistence.NewSQLiteStore(ctx, db)
		if err != nil {
			return nil, err
		}
		b.persistence = store.Persistence()

	case "postgres":
		db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		store, err := persistence.NewPostgresStore(ctx, db)
		if err != nil {
			return nil, err
		}
		b.persistence = store.Persistence()

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Store.MongoURI))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
		store, err := persistence.NewMongoStore(ctx, client, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}
		b.persistence = store.Persistence()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	switch {
	case cfg.Redis.Addr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.locker = lock.NewRedisLocker(client, "")
	case withLocalLock:
		b.locker = lock.NewMemoryLocker()
	}

	ok = true
	return b, nil
}
