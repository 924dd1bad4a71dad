// Package postgres implements core.Store on PostgreSQL through pgx.
//
// The connection pool is opened lazily on first use and reused for the
// life of the Store. Every row write runs in its own transaction; bulk
// loads use the COPY protocol.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/sigtap/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabase is returned when the store has no connection string.
var ErrNoDatabase = errors.New("no database configured: set DATABASE_URL")

// DefaultLockTimeout bounds how long ALTER TABLE waits for a table lock.
const DefaultLockTimeout = 5 * time.Second

// PoolConfig carries the pool settings applied on connect.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a lazily connected PostgreSQL store.
type Store struct {
	dsn         string
	schema      string
	poolCfg     PoolConfig
	lockTimeout time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// Option configures a Store.
type Option func(*Store)

// WithSchema sets the schema tables are created in (default "public").
func WithSchema(schema string) Option {
	return func(s *Store) { s.schema = schema }
}

// WithPoolConfig applies pool limits on connect.
func WithPoolConfig(cfg PoolConfig) Option {
	return func(s *Store) { s.poolCfg = cfg }
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPool uses an already open pool instead of connecting lazily.
func WithPool(pool *pgxpool.Pool) Option {
	return func(s *Store) { s.pool = pool }
}

// New creates a store. No connection is made until the first operation.
func New(dsn string, opts ...Option) *Store {
	s := &Store{
		dsn:         dsn,
		schema:      "public",
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pool returns the connection pool, connecting on first call.
func (s *Store) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		return s.pool, nil
	}
	if s.dsn == "" {
		return nil, ErrNoDatabase
	}

	poolConfig, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if s.poolCfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(s.poolCfg.MaxConns)
	}
	if s.poolCfg.MinConns > 0 {
		poolConfig.MinConns = int32(s.poolCfg.MinConns)
	}
	if s.poolCfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = s.poolCfg.MaxConnLifetime
	}
	if s.poolCfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = s.poolCfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s.logger.Info("connected to database", "database", poolConfig.ConnConfig.Database)
	s.pool = pool
	return pool, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.Pool(ctx)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close closes the pool if it was opened.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

// TableExists reports whether the table exists in the store's schema.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	pool, err := s.Pool(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		s.schema, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query table existence: %w", err)
	}
	return exists, nil
}

// LiveColumns reads the table's columns from information_schema.
// character_octet_length is the byte budget; character_maximum_length is
// the declared length in characters.
func (s *Store) LiveColumns(ctx context.Context, table string) ([]core.LiveColumn, error) {
	pool, err := s.Pool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT column_name, data_type, character_maximum_length, character_octet_length, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`,
		s.schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []core.LiveColumn
	for rows.Next() {
		var (
			name, dataType, nullable string
			maxChars, maxOctets      *int32
		)
		if err := rows.Scan(&name, &dataType, &maxChars, &maxOctets, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, liveColumn(name, dataType, nullable, maxChars, maxOctets))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return columns, nil
}

// CreateTable creates the table with an optional primary key.
func (s *Store) CreateTable(ctx context.Context, table string, columns []core.ColumnSpec, primaryKey []string) error {
	return s.exec(ctx, buildCreateTable(s.schema, table, columns, primaryKey))
}

// AddColumn adds a column if it does not exist yet.
func (s *Store) AddColumn(ctx context.Context, table string, column core.ColumnSpec) error {
	return s.exec(ctx, buildAddColumn(s.schema, table, column))
}

// WidenColumn changes a column's type under a lock timeout, so a busy
// table fails fast with SQLSTATE 55P03 instead of blocking the run.
func (s *Store) WidenColumn(ctx context.Context, table string, column core.ColumnSpec) error {
	pool, err := s.Pool(ctx)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, timeout); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, buildWidenColumn(s.schema, table, column))
		return err
	})
}

func (s *Store) exec(ctx context.Context, sql string) error {
	pool, err := s.Pool(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug("executing DDL", "sql", sql)
	_, err = pool.Exec(ctx, sql)
	return err
}

// InTx runs fn in a new transaction.
func (s *Store) InTx(ctx context.Context, fn func(core.RowStore) error) error {
	pool, err := s.Pool(ctx)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return fn(&rowTx{tx: tx, schema: s.schema})
	})
}

// CopyRows bulk loads rows with the COPY protocol. The load is atomic.
func (s *Store) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	pool, err := s.Pool(ctx)
	if err != nil {
		return 0, err
	}

	ident := pgx.Identifier{table}
	if s.schema != "" {
		ident = pgx.Identifier{s.schema, table}
	}
	n, err := pool.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// rowTx implements core.RowStore on one transaction.
type rowTx struct {
	tx     pgx.Tx
	schema string
}

func (r *rowTx) Exists(ctx context.Context, table string, key []core.Field) (bool, error) {
	sql, args := buildExists(r.schema, table, key)
	var exists bool
	if err := r.tx.QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *rowTx) Insert(ctx context.Context, table string, fields []core.Field) error {
	sql, args := buildInsert(r.schema, table, fields)
	_, err := r.tx.Exec(ctx, sql, args...)
	return err
}

func (r *rowTx) Update(ctx context.Context, table string, key, fields []core.Field) error {
	if len(fields) == 0 {
		return nil
	}
	sql, args := buildUpdate(r.schema, table, key, fields)
	_, err := r.tx.Exec(ctx, sql, args...)
	return err
}

var (
	_ core.Store     = (*Store)(nil)
	_ core.BulkStore = (*Store)(nil)
)
