package main

import (
	"context"
	"database/sql"
	"fmt"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/config"
	"github.com/overtonx/eventrelay/storage"
	"github.com/overtonx/eventrelay/storage/pgstore"
	"github.com/overtonx/eventrelay/storage/sqlstore"
	"github.com/overtonx/eventrelay/uow"
)

// backend is the opened outbox store plus what producers need to write to it.
type backend struct {
	store      storage.Store
	transactor uow.Transactor
	db         *sql.DB
	close      func()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	var b *backend
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.Store.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping mysql: %w", err)
		}
		b = &backend{
			store:      sqlstore.NewSQLStore(db, logger),
			transactor: manager.Must(trmsql.NewDefaultFactory(db)),
			db:         db,
			close:      func() { db.Close() },
		}
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Store.PGURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PG_URL: %w", err)
		}
		poolCfg.MaxConns = cfg.Store.PGPoolMax
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pg pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		b = &backend{
			store:      pgstore.New(pool, logger),
			transactor: pgstore.NewTxManager(pool),
			close:      pool.Close,
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.EnsureTable {
		if sm, ok := b.store.(storage.SchemaManager); ok {
			if err := sm.EnsureTables(ctx); err != nil {
				b.close()
				return nil, err
			}
		}
	}
	return b, nil
}
