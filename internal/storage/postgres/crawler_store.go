// Package postgres provides a Postgres-backed crawler repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
)

const defaultTable = "crawlers"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StoreConfig controls the Postgres connection pool used for crawler rows.
type StoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store persists crawler records in a single table. The config column is
// JSONB; version backs the compare-and-swap in Save.
type Store struct {
	pool  pool
	table string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the crawler table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	config     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version    BIGINT NOT NULL DEFAULT 0
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Exists reports whether a row with id exists.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check crawler exists: %w", err)
	}
	return exists, nil
}

// FindByID loads one crawler.
func (s *Store) FindByID(ctx context.Context, id string) (crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT id, name, status, config, created_at, updated_at, version
FROM %s WHERE id = $1`, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Record{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Record{}, fmt.Errorf("select crawler: %w", err)
	}
	return rec, nil
}

// FindAll loads every crawler.
func (s *Store) FindAll(ctx context.Context) ([]crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT id, name, status, config, created_at, updated_at, version
FROM %s`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select crawlers: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawler: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawlers: %w", err)
	}
	return out, nil
}

// Insert adds a row at version 0. The primary key decides duplicates, so two
// racing inserts of the same id cannot both succeed.
func (s *Store) Insert(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	cfgJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("marshal crawler config: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, status, config, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, 0)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Name,
		string(rec.Status),
		cfgJSON,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("insert crawler: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.Record{}, crawler.ErrAlreadyExists
	}
	stored := rec.Clone()
	stored.Version = 0
	return stored, nil
}

// Save updates the row only if its version still equals rec.Version.
func (s *Store) Save(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	cfgJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("marshal crawler config: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET name = $2, status = $3, config = $4, updated_at = $5, version = version + 1
WHERE id = $1 AND version = $6
RETURNING created_at, version`, s.table)

	stored := rec.Clone()
	err = s.pool.QueryRow(ctx, query,
		rec.ID,
		rec.Name,
		string(rec.Status),
		cfgJSON,
		rec.UpdatedAt,
		rec.Version,
	).Scan(&stored.CreatedAt, &stored.Version)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return crawler.Record{}, fmt.Errorf("update crawler: %w", err)
	}
	exists, existsErr := s.Exists(ctx, rec.ID)
	if existsErr != nil {
		return crawler.Record{}, existsErr
	}
	if !exists {
		return crawler.Record{}, crawler.ErrNotFound
	}
	return crawler.Record{}, crawler.ErrVersionConflict
}

// DeleteByID removes the row if present.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete crawler: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (crawler.Record, error) {
	var (
		rec     crawler.Record
		status  string
		cfgJSON []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&status,
		&cfgJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Version,
	); err != nil {
		return crawler.Record{}, err
	}
	rec.Status = crawler.Status(status)
	if err := json.Unmarshal(cfgJSON, &rec.Config); err != nil {
		return crawler.Record{}, fmt.Errorf("decode crawler config: %w", err)
	}
	return rec, nil
}
