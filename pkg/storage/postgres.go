package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool is the subset of pgxpool.Pool the store uses, so pgxmock can stand in.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// postgresStore keeps every zone in one objects table. The primary key on
// key gives create-if-absent its single winner.
type postgresStore struct {
	pool Pool
}

func NewPostgresStore(pool Pool) ObjectStore {
	return &postgresStore{pool: pool}
}

// OpenPostgres creates a connection pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

const (
	sqlPut = `INSERT INTO objects (key, data) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	sqlPutIfAbsent   = `INSERT INTO objects (key, data) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`
	sqlGet           = `SELECT data FROM objects WHERE key = $1`
	sqlExists        = `SELECT EXISTS (SELECT 1 FROM objects WHERE key = $1)`
	sqlList          = `SELECT key FROM objects WHERE starts_with(key, $1) ORDER BY key`
	sqlDelete        = `DELETE FROM objects WHERE key = $1`
	sqlDeleteIfMatch = `DELETE FROM objects WHERE key = $1 AND data = $2`
)

func (s *postgresStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.pool.Exec(ctx, sqlPut, key, data); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *postgresStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	tag, err := s.pool.Exec(ctx, sqlPutIfAbsent, key, data)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, sqlGet, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *postgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, sqlExists, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return exists, nil
}

func (s *postgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, sqlList, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *postgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, sqlDelete, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *postgresStore) DeleteIfMatch(ctx context.Context, key string, expected []byte) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteIfMatch, key, expected)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
