package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	assert.Equal(t,
		"SELECT a FROM t WHERE x = $1 AND y = $2",
		pg.Rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &DB{Dialect: SQLite}
	assert.Equal(t, "x = ?", lite.Rebind("x = ?"))
}

func TestOpenAndMigrateSQLite(t *testing.T) {
	cfg := Config{Driver: SQLite, Path: filepath.Join(t.TempDir(), "nested", "data.db")}
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	// idempotent
	require.NoError(t, Migrate(db))

	for _, table := range []string{"user_series", "reading_progress", "user_preferences"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mysql"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: Postgres})
	assert.Error(t, err)
}

func TestDescribeHidesDSN(t *testing.T) {
	cfg := Config{Driver: Postgres, DSN: "postgres://user:secret@db/app"}
	assert.Equal(t, "postgres", cfg.Describe())
}

func TestWithOverrides(t *testing.T) {
	base := Config{Driver: SQLite, Path: "/tmp/a.db"}

	pg := base.WithOverrides("postgres", "", "postgres://db/mangasync")
	assert.Equal(t, Postgres, pg.Driver)
	assert.Equal(t, "postgres://db/mangasync", pg.DSN)

	same := base.WithOverrides("", "", "")
	assert.Equal(t, base, same)

	moved := base.WithOverrides("sqlite", "/tmp/b.db", "")
	assert.Equal(t, SQLite, moved.Driver)
	assert.Equal(t, "/tmp/b.db", moved.Path)
}
