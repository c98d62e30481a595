// Package postgres opens the metadata store connection: a wbf/dbpg pool
// with a gorm session layered on the master connection.
package postgres

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Lunanaall/thumbnailer/internal/config"
)

// DB bundles the raw pool (used for migrations) and the gorm session.
type DB struct {
	Pool *dbpg.DB
	Gorm *gorm.DB
}

// Open connects to PostgreSQL and verifies the connection, retrying with
// the given strategy.
func Open(ctx context.Context, cfg config.Database, strategy retry.Strategy) (*DB, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	var pool *dbpg.DB
	err := retry.Do(func() error {
		var err error
		pool, err = dbpg.New(cfg.DSN(), nil, opts)
		if err != nil {
			return err
		}
		if err := pool.Master.PingContext(ctx); err != nil {
			_ = pool.Master.Close()
			return err
		}
		return nil
	}, strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s@%s: %w", cfg.Name, cfg.Host, err)
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: pool.Master}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = pool.Master.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return &DB{Pool: pool, Gorm: gdb}, nil
}

// Close releases the master and any replica connections.
func (d *DB) Close() error {
	err := d.Pool.Master.Close()
	for i, s := range d.Pool.Slaves {
		if cerr := s.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close replica %d: %w", i, cerr))
		}
	}
	return err
}
