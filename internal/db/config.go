package db

import (
	"github.com/jmehdipour/newsletter/internal/config"
	"github.com/jmoiron/sqlx"
)

func poolFromConfig(c config.DatabaseConfig) PoolOpts {
	return PoolOpts{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

func OpenMySQL(c config.DatabaseConfig) (*sqlx.DB, error) {
	return NewMySQLConnection(c.DSN, poolFromConfig(c))
}

func OpenClickHouse(c config.DatabaseConfig) (*sqlx.DB, error) {
	return NewClickHouseConnection(c.DSN, poolFromConfig(c))
}
