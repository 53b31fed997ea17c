package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

type Config struct {
	Driver Dialect
	Path   string // sqlite file, ":memory:" for tests
	DSN    string // postgres connection string
}

// DB pairs the pool with the dialect its queries must be written in.
type DB struct {
	*sql.DB
	Dialect Dialect
}

func DefaultConfig() Config {
	if strings.EqualFold(os.Getenv("MANGASYNC_DB_DRIVER"), string(Postgres)) {
		return Config{Driver: Postgres, DSN: os.Getenv("MANGASYNC_DB_DSN")}
	}

	// Docker Compose / env override
	if p := os.Getenv("MANGASYNC_DB_PATH"); p != "" {
		return Config{Driver: SQLite, Path: p}
	}

	// local default: ~/.mangasync/data.db
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return Config{
		Driver: SQLite,
		Path:   filepath.Join(home, ".mangasync", "data.db"),
	}
}

// WithOverrides applies the non-empty settings of a config file on top of c.
func (c Config) WithOverrides(driver, path, dsn string) Config {
	switch {
	case strings.EqualFold(driver, string(Postgres)):
		c.Driver = Postgres
	case strings.EqualFold(driver, string(SQLite)), strings.EqualFold(driver, "sqlite"):
		c.Driver = SQLite
	}
	if path != "" {
		c.Path = path
	}
	if dsn != "" {
		c.DSN = dsn
	}
	if c.Driver == SQLite && c.Path == "" {
		c.Path = DefaultConfig().Path
	}
	return c
}

// MemoryConfig is a private in-process SQLite database.
func MemoryConfig() Config {
	return Config{Driver: SQLite, Path: ":memory:"}
}

// Describe is safe to print: it never includes a DSN.
func (c Config) Describe() string {
	if c.Driver == Postgres {
		return "postgres"
	}
	return c.Path
}

func EnsureDataDir(cfg Config) error {
	if cfg.Driver == Postgres || cfg.Path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(cfg.Path), 0o755)
}

func Open(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = SQLite
	}
	switch cfg.Driver {
	case SQLite:
		return openSQLite(cfg)
	case Postgres:
		return openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func openSQLite(cfg Config) (*DB, error) {
	if err := EnsureDataDir(cfg); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma foreign_keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &DB{DB: db, Dialect: SQLite}, nil
}

func openPostgres(cfg Config) (*DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("open postgres: empty dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{DB: db, Dialect: Postgres}, nil
}

func MustOpen(cfg Config) *DB {
	db, err := Open(cfg)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	return db
}

// Rebind rewrites '?' placeholders into the dialect's form.
func (db *DB) Rebind(query string) string {
	if db.Dialect != Postgres {
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

// Millis is the stored form of every timestamp column.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
