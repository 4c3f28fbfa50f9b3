package dbh

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestDBNotExist(t *testing.T) {
	require.False(t, DBNotExistRegex.MatchString(`does not exist`))
	require.True(t, DBNotExistRegex.MatchString(`database "foobar" does not exist`))
	require.False(t, DBNotExistRegex.MatchString(`table "foobar" does not exist`))
	require.False(t, DBNotExistRegex.MatchString(`"foobar" does not exist`))
}

func TestParseDBString(t *testing.T) {
	c := ParseDBString("results.sqlite")
	require.Equal(t, DriverSqlite, c.Driver)
	require.Equal(t, "results.sqlite", c.DSN())

	c = ParseDBString("postgres:simeval")
	require.Equal(t, DriverPostgres, c.Driver)
	require.Equal(t, "host=localhost user='' password='' dbname=simeval sslmode=disable", c.DSN())

	bad := DBConfig{Driver: "mysql", Database: "x"}
	require.Error(t, bad.Validate())
	empty := DBConfig{}
	require.True(t, empty.IsEmpty())
	require.NoError(t, empty.Validate())
}

func TestMigrationSummary(t *testing.T) {
	require.Equal(t, "CREATE TABLE run(", migrationSummary("\n  CREATE TABLE run(\n id INTEGER)"))
	require.Equal(t, "SELECT 1", migrationSummary("SELECT 1"))
}

func TestOpenSqlite(t *testing.T) {
	log := logs.NewTestingLog(t)
	cfg := MakeSqliteConfig(filepath.Join(t.TempDir(), "test.sqlite"))
	migs := MakeMigrations(log, []string{
		`CREATE TABLE thing(id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE UNIQUE INDEX idx_thing_name ON thing(name)`,
	})
	db, err := OpenDB(log, cfg, migs, DBConnectFlagWipeDB)
	require.NoError(t, err)
	require.NoError(t, db.Exec("INSERT INTO thing(name) VALUES ('a'), ('b')").Error)
	err = db.Exec("INSERT INTO thing(name) VALUES ('a')").Error
	require.Error(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	names, err := ScanArray[string](sqlDB.Query("SELECT name FROM thing ORDER BY name"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)
	sqlDB.Close()

	// Re-opening runs no new migrations, and keeps the data
	db, err = OpenDB(log, cfg, migs, 0)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Table("thing").Count(&count).Error)
	require.Equal(t, int64(2), count)
}
