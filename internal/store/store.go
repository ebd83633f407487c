// Package store persists farms, game sessions and satellite rows in a
// relational database. SQLite is the default; a postgres:// DSN selects
// Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const dateLayout = "2006-01-02"

type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open connects to dsn and applies the schema.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty db dsn")
	}
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	} else if path := strings.TrimPrefix(dsn, "file:"); !strings.HasPrefix(path, ":memory:") {
		if dir := filepath.Dir(strings.SplitN(path, "?", 2)[0]); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if err := initPragmas(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, driver: driver, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the time source used for created_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS farms (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			farm_name TEXT NOT NULL,
			farm_size REAL NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_farms_user ON farms(user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			farm_id TEXT,
			mode TEXT NOT NULL,
			location TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			crop_type TEXT NOT NULL,
			start_date TEXT NOT NULL,
			current_day INTEGER NOT NULL,
			water_reserve REAL NOT NULL,
			budget REAL NOT NULL,
			env_score REAL NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON game_sessions(user_id, completed, created_at);`,
		`CREATE TABLE IF NOT EXISTS session_snapshots (
			session_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS satellite_data (
			id TEXT PRIMARY KEY,
			game_session_id TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			date TEXT NOT NULL,
			ndvi REAL,
			lst_kelvin REAL,
			lst_celsius REAL,
			soil_moisture REAL,
			is_interpolated BOOLEAN NOT NULL DEFAULT FALSE,
			data_age_days INTEGER NOT NULL DEFAULT 0,
			data_source TEXT NOT NULL,
			quality_flags TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_satellite_session_date ON satellite_data(game_session_id, date);`,
		`CREATE INDEX IF NOT EXISTS idx_satellite_pos_date ON satellite_data(latitude, longitude, date);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
