package migration

import (
	"io/fs"
	"testing"

	"github.com/smallbiznis/profitledger/pkg/db"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsCoverEveryTable(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_ledger.up.sql")
	require.NoError(t, err)
	down, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_ledger.down.sql")
	require.NoError(t, err)

	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: conn}
		require.NoError(t, stmt.Parse(model))
		table := stmt.Schema.Table
		require.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
		require.Contains(t, string(down), "DROP TABLE IF EXISTS "+table+";", table)
	}
}

func TestAutoMigrate(t *testing.T) {
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(conn))

	for _, model := range Models() {
		require.True(t, conn.Migrator().HasTable(model))
	}
}
