package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used by PostgresMetadataStore.
// pgxmock.PgxPoolIface satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresMetadataStore implements MetadataStore using pgxpool.
type PostgresMetadataStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS metadata_items (
	tbl        TEXT NOT NULL,
	item_key   TEXT NOT NULL,
	attrs      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tbl, item_key)
);

CREATE INDEX IF NOT EXISTS idx_metadata_items_updated_at ON metadata_items(updated_at);
`

// NewPostgres creates a PostgresMetadataStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresMetadataStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresMetadataStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close is a no-op.
func NewPostgresFromPool(pool Pool) *PostgresMetadataStore {
	return &PostgresMetadataStore{pool: pool}
}

// Migrate creates the metadata table.
func (s *PostgresMetadataStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresMetadataStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresMetadataStore) PutItem(ctx context.Context, table, key string, item Item) error {
	attrs, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal item")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO metadata_items (tbl, item_key, attrs, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tbl, item_key) DO UPDATE SET attrs = EXCLUDED.attrs, updated_at = EXCLUDED.updated_at`,
		table, key, attrs, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: put item %s/%s", table, key)
	}
	return nil
}

func (s *PostgresMetadataStore) GetItem(ctx context.Context, table, key string) (Item, error) {
	var attrs []byte
	err := s.pool.QueryRow(ctx,
		`SELECT attrs FROM metadata_items WHERE tbl = $1 AND item_key = $2`, table, key,
	).Scan(&attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get item %s/%s", table, key)
	}

	var item Item
	if err := json.Unmarshal(attrs, &item); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal item %s/%s", table, key)
	}
	return item, nil
}

func (s *PostgresMetadataStore) Scan(ctx context.Context, table string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_key, attrs FROM metadata_items WHERE tbl = $1 ORDER BY item_key`, table,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan %s", table)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			key   string
			attrs []byte
		)
		if err := rows.Scan(&key, &attrs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		var item Item
		if err := json.Unmarshal(attrs, &item); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal row %s", key)
		}
		out = append(out, Record{Key: key, Item: item})
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", table)
}
