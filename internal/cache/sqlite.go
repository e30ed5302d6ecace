package cache

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/quarrylabs/quarry/pkg/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	gob.Register(time.Time{})
	gob.Register(time.Duration(0))
	gob.Register(&apd.Decimal{})
}

// SQLiteStore is a persistent CacheManager backed by SQLite. Tables are
// stored gob-encoded; schema changes run through embedded goose migrations.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the cache database at path and runs
// pending migrations. Use ":memory:" for an in-memory cache database.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging cache database: %w", err)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configuring migrations: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running cache migrations: %w", err)
	}

	logger.Debug("cache store opened", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the cache database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ComputeKey derives the content-addressed cache key.
func (s *SQLiteStore) ComputeKey(query *core.Query, mode core.PrivacyMode, levels map[core.SourceID]core.PrivacyLevel, opts core.ExecOptions) (string, error) {
	return ComputeKey(query, mode, levels, opts)
}

// Get returns the cached table for a key, if present.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*core.DataTable, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cache_entries WHERE key = ?`, key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}

	var table core.DataTable
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&table); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &table, true, nil
}

// Set stores a table under a key, replacing any previous entry.
func (s *SQLiteStore) Set(ctx context.Context, key string, table *core.DataTable, meta core.CacheMeta) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(table); err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (id, key, query_id, privacy_mode, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   query_id = excluded.query_id,
		   privacy_mode = excluded.privacy_mode,
		   payload = excluded.payload,
		   created_at = excluded.created_at`,
		uuid.New().String(), key, meta.QueryID, string(meta.PrivacyMode), payload.Bytes(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}
