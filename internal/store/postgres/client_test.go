package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	t.Run("explicit dsn wins", func(t *testing.T) {
		got := DSN(ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"})
		assert.Equal(t, "postgres://x@y/z", got)
	})
	t.Run("built from parts with defaults", func(t *testing.T) {
		got := DSN(ClientConfig{Host: "db", Database: "densitybot", User: "bot", Password: "pw"})
		assert.Equal(t, "postgres://bot:pw@db:5432/densitybot?sslmode=disable", got)
	})
	t.Run("explicit port and sslmode", func(t *testing.T) {
		got := DSN(ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"})
		assert.Equal(t, "postgres://u:p@db:6543/d?sslmode=require", got)
	})
}

func TestPendingMigrations(t *testing.T) {
	files, err := migrationFiles(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_init.sql", files[0])

	assert.Equal(t, files, pendingMigrations(files, nil))
	assert.Empty(t, pendingMigrations(files, files))
	assert.Equal(t, []string{"002_b.sql"}, pendingMigrations([]string{"001_a.sql", "002_b.sql"}, []string{"001_a.sql", "000_gone.sql"}))
}

func TestMigrations_CreateEveryTable(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/001_init.sql")
	require.NoError(t, err)
	sql := string(data)
	for _, table := range []string{"coin_parameters", "densities", "orderbook_snapshots", "trades", "system_events"} {
		assert.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}
