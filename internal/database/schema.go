package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema holds the statements run by EnsureSchema, in order.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		trade_id    UUID PRIMARY KEY,
		exchange_ts BIGINT NOT NULL,
		received_at BIGINT NOT NULL,
		symbol      TEXT NOT NULL,
		price       NUMERIC NOT NULL,
		size        NUMERIC NOT NULL,
		side        TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS trades_symbol_ts_idx ON trades (symbol, exchange_ts)`,
	`CREATE TABLE IF NOT EXISTS tickers (
		symbol      TEXT NOT NULL,
		exchange_ts BIGINT NOT NULL,
		received_at BIGINT NOT NULL,
		price       NUMERIC,
		best_bid    NUMERIC,
		best_ask    NUMERIC,
		volume_24h  NUMERIC,
		PRIMARY KEY (symbol, exchange_ts)
	)`,
}

// EnsureSchema creates the storage tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
