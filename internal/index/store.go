package index

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cairndb/cairn/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// Validator checks an entity value against its category schema.
// *schema.Registry satisfies this; tests may inject a stub.
type Validator interface {
	ValidateRaw(cat string, raw json.RawMessage) error
	Has(cat string) bool
}

// Namer maps an entry oid to its relative attachment path.
type Namer func(oid int64) string

// DefaultNamer renders the oid as hex (at least four digits) split into a
// two-level path, e.g. 26 -> "00/1a". Keeps attachment directories fanned
// out without ever colliding (the mapping is injective).
func DefaultNamer(oid int64) string {
	x := fmt.Sprintf("%04x", oid)
	return x[:2] + "/" + x[2:]
}

// Store is the transactional entry index. It owns the Entry table, the
// Short projection and every category-declared derived structure.
//
// Uses SQLite with WAL mode. The connection pool is capped at one writer,
// so concurrent mutations serialize at the database; optimistic version
// checks still guard against stale writers that read before queueing.
type Store struct {
	db        *sql.DB
	validator Validator
	namer     Namer
	now       *Clock
}

// Option customizes a Store.
type Option func(*Store)

// WithNamer overrides the attach-path namer.
func WithNamer(n Namer) Option {
	return func(s *Store) { s.namer = n }
}

// WithClock overrides the timestamp source (tests).
func WithClock(c *Clock) Option {
	return func(s *Store) { s.now = c }
}

// Open creates or opens the index database at path. The base schema is
// applied idempotently; category initializers are installed separately
// via InstallInitializers.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
func Open(path string, validator Validator, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to index database: %w", err)
	}

	// SQLite supports a single writer; queue everything on one connection
	// to avoid SQLITE_BUSY instead of failing.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply base schema: %w", err)
	}

	s := &Store{db: db, validator: validator, namer: DefaultNamer, now: NewClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for read-only projections. Mutation
// must go through Create/Update/Delete so versioning invariants hold.
func (s *Store) DB() *sql.DB { return s.db }

// Release reads the instance release number (PRAGMA user_version).
func (s *Store) Release(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// SetRelease stamps the instance release number.
func (s *Store) SetRelease(ctx context.Context, release int) error {
	if release < 0 {
		return fmt.Errorf("release must be non-negative, got %d", release)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", release)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// InstallInitializers runs category initialization scripts in the order
// given. The order must come from the registry's deterministic traversal
// so that re-initialization is reproducible.
func (s *Store) InstallInitializers(ctx context.Context, inits []schema.Initializer) error {
	for _, init := range inits {
		if _, err := s.db.ExecContext(ctx, init.SQL); err != nil {
			return fmt.Errorf("install initializer for %s: %w", init.Cat, err)
		}
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}
