package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/playdesk/playdesk/internal/common/config"
	"github.com/playdesk/playdesk/internal/db/dialect"
)

// Open builds the connection Pool from configuration. SQLite gets separate
// writer and reader pools; Postgres shares one pool for both roles.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	switch cfg.Driver {
	case "", dialect.SQLite3:
		writer, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return NewPool(
			sqlx.NewDb(writer, dialect.SQLite3),
			sqlx.NewDb(reader, dialect.SQLite3),
		), nil

	case dialect.PGX:
		conn, err := OpenPostgres(cfg.URL, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		shared := sqlx.NewDb(conn, dialect.PGX)
		return NewPool(shared, shared), nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
