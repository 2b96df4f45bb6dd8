package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// sqlDialect holds the statements that differ between SQL engines.
type sqlDialect struct {
	name      string
	pragmas   []string
	migration string
	upsert    string
}

var sqliteDialect = sqlDialect{
	name: "sqlite",
	pragmas: []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	},
	migration: `
CREATE TABLE IF NOT EXISTS metadata_items (
	tbl        TEXT NOT NULL,
	item_key   TEXT NOT NULL,
	attrs      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (tbl, item_key)
);

CREATE INDEX IF NOT EXISTS idx_metadata_items_updated_at ON metadata_items(updated_at);
`,
	upsert: `INSERT INTO metadata_items (tbl, item_key, attrs, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (tbl, item_key) DO UPDATE SET attrs = excluded.attrs, updated_at = excluded.updated_at`,
}

var mysqlDialect = sqlDialect{
	name: "mysql",
	migration: `
CREATE TABLE IF NOT EXISTS metadata_items (
	tbl        VARCHAR(128) NOT NULL,
	item_key   VARCHAR(512) NOT NULL,
	attrs      JSON NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	PRIMARY KEY (tbl, item_key)
)`,
	upsert: `INSERT INTO metadata_items (tbl, item_key, attrs, updated_at) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE attrs = VALUES(attrs), updated_at = VALUES(updated_at)`,
}

// SQLMetadataStore implements MetadataStore over database/sql. Every logical
// table shares one physical table keyed by (tbl, item_key).
type SQLMetadataStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLMetadataStore, error) {
	return openSQL("sqlite", dsn, sqliteDialect)
}

// NewMySQL opens a MySQL database. The DSN should set parseTime=true.
func NewMySQL(dsn string) (*SQLMetadataStore, error) {
	return openSQL("mysql", dsn, mysqlDialect)
}

func openSQL(driver, dsn string, d sqlDialect) (*SQLMetadataStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: open", d.name)
	}
	for _, pragma := range d.pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "%s: exec %s", d.name, pragma)
		}
	}
	return &SQLMetadataStore{db: db, dialect: d}, nil
}

// Migrate creates the metadata table.
func (s *SQLMetadataStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.migration)
	return eris.Wrapf(err, "%s: migrate", s.dialect.name)
}

func (s *SQLMetadataStore) Close() error {
	return s.db.Close()
}

func (s *SQLMetadataStore) PutItem(ctx context.Context, table, key string, item Item) error {
	attrs, err := json.Marshal(item)
	if err != nil {
		return eris.Wrapf(err, "%s: marshal item", s.dialect.name)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.upsert, table, key, string(attrs), time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "%s: put item %s/%s", s.dialect.name, table, key)
	}
	return nil
}

func (s *SQLMetadataStore) GetItem(ctx context.Context, table, key string) (Item, error) {
	var attrs string
	err := s.db.QueryRowContext(ctx,
		`SELECT attrs FROM metadata_items WHERE tbl = ? AND item_key = ?`, table, key,
	).Scan(&attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "%s: get item %s/%s", s.dialect.name, table, key)
	}

	var item Item
	if err := json.Unmarshal([]byte(attrs), &item); err != nil {
		return nil, eris.Wrapf(err, "%s: unmarshal item %s/%s", s.dialect.name, table, key)
	}
	return item, nil
}

func (s *SQLMetadataStore) Scan(ctx context.Context, table string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_key, attrs FROM metadata_items WHERE tbl = ? ORDER BY item_key`, table,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: scan %s", s.dialect.name, table)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var key, attrs string
		if err := rows.Scan(&key, &attrs); err != nil {
			return nil, eris.Wrapf(err, "%s: scan row", s.dialect.name)
		}
		var item Item
		if err := json.Unmarshal([]byte(attrs), &item); err != nil {
			return nil, eris.Wrapf(err, "%s: unmarshal row %s", s.dialect.name, key)
		}
		out = append(out, Record{Key: key, Item: item})
	}
	return out, eris.Wrapf(rows.Err(), "%s: iterate %s", s.dialect.name, table)
}
