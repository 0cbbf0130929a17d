package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"idx-pipeline/utils"
)

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

// Store persists the property catalog and the linkable workflow tables in
// PostgreSQL or SQLite. Queries are written with '?' placeholders and
// rebound for Postgres.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *utils.Logger
	now     func() time.Time
}

// Open connects to the database, waits until it answers, and runs the schema
// migrations. driver is "postgres" or "sqlite"; for sqlite dsn is a file path.
func Open(ctx context.Context, driver, dsn string, logger *utils.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
		d   dialect
	)

	switch driver {
	case "postgres":
		d = dialectPostgres
		db, err = sql.Open("postgres", dsn)
	case "sqlite":
		d = dialectSQLite
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("storage: create db dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dsn))
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	retry := utils.RetryConfig{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, Logger: logger}
	if err := retry.Do(ctx, "storage ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	s := &Store{db: db, dialect: d, log: logger, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	bigint, double := "INTEGER", "REAL"
	if s.dialect == dialectPostgres {
		idCol, bigint, double = "BIGSERIAL PRIMARY KEY", "BIGINT", "DOUBLE PRECISION"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS idx_properties (
			id            ` + idCol + `,
			mls_id        TEXT    NOT NULL DEFAULT '',
			listing_id    TEXT    NOT NULL DEFAULT '',
			address       TEXT    NOT NULL DEFAULT '',
			address_key   TEXT    NOT NULL DEFAULT '',
			price         ` + bigint + ` NOT NULL DEFAULT 0,
			beds          INTEGER NOT NULL DEFAULT 0,
			baths         ` + double + ` NOT NULL DEFAULT 0,
			sqft          INTEGER NOT NULL DEFAULT 0,
			images        TEXT    NOT NULL DEFAULT '[]',
			page_url      TEXT    NOT NULL DEFAULT '',
			property_type TEXT    NOT NULL DEFAULT '',
			status        TEXT    NOT NULL DEFAULT '',
			source        TEXT    NOT NULL DEFAULT 'idx',
			created_at    TEXT    NOT NULL,
			updated_at    TEXT    NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_idx_properties_mls ON idx_properties(mls_id) WHERE mls_id <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_idx_properties_address ON idx_properties(address) WHERE mls_id = ''`,
		`CREATE INDEX IF NOT EXISTS idx_idx_properties_address_key ON idx_properties(address_key)`,
	}
	for _, c := range linkableTables {
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS `+c+` (
				id               `+idCol+`,
				owner_id         TEXT NOT NULL,
				property_address TEXT NOT NULL DEFAULT '',
				mls_id           TEXT NOT NULL DEFAULT '',
				idx_property_id  `+bigint+` NULL,
				status           TEXT NOT NULL DEFAULT '',
				created_at       TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_`+c+`_owner_unlinked ON `+c+`(owner_id, idx_property_id)`,
		)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns '?' placeholders into $1..$n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) timestamp() string {
	return s.now().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
