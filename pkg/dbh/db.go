package dbh

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/logs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DBConnectFlags are flags passed to OpenDB.
type DBConnectFlags int

const DriverPostgres = "postgres"
const DriverSqlite = "sqlite3"

const (
	// DBConnectFlagWipeDB causes the entire DB to erased, and re-initialized from scratch (useful for unit tests).
	DBConnectFlagWipeDB DBConnectFlags = 1 << iota
)

var DBNotExistRegex *regexp.Regexp

// DBConfig describes where evaluation results are stored.
// An empty Driver means "no database".
type DBConfig struct {
	Driver      string `yaml:"driver"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	SSLCert     string `yaml:"sslCert"`
	SSLKey      string `yaml:"sslKey"`
	SSLRootCert string `yaml:"sslRootCert"`
}

func MakeSqliteConfig(filename string) DBConfig {
	return DBConfig{
		Driver:   DriverSqlite,
		Database: filename,
	}
}

// ParseDBString interprets a command line database argument.
// "postgres://..." style URLs are not supported. Anything that is not
// "postgres:<dbname>" is treated as an sqlite filename.
func ParseDBString(s string) DBConfig {
	if name, ok := strings.CutPrefix(s, "postgres:"); ok {
		return DBConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Database: name,
		}
	}
	return MakeSqliteConfig(s)
}

func (db *DBConfig) IsEmpty() bool {
	return db.Driver == ""
}

func (db *DBConfig) Validate() error {
	switch db.Driver {
	case "":
		return nil
	case DriverSqlite, DriverPostgres:
	default:
		return fmt.Errorf("Unsupported database driver '%v'", db.Driver)
	}
	if db.Database == "" {
		return fmt.Errorf("Database name is empty")
	}
	return nil
}

// LogSafeDescription seturn a string that is useful for debugging connection issues, but doesn't leak secrets
func (db *DBConfig) LogSafeDescription() string {
	desc := fmt.Sprintf("driver=%s host=%v database=%v username=%v", db.Driver, db.Host, db.Database, db.Username)
	if db.Port != 0 {
		desc += fmt.Sprintf(" port=%v", db.Port)
	}
	return desc
}

// DSN returns a database connection string (built for Postgres and Sqlite only).
func (db *DBConfig) DSN() string {
	if db.Driver == DriverSqlite {
		return db.Database
	}
	escape := func(s string) string {
		if s == "" {
			return "''"
		} else if !strings.ContainsAny(s, " '\\") {
			return s
		}
		e := strings.Builder{}
		e.WriteRune('\'')
		for _, r := range s {
			if r == '\\' || r == '\'' {
				e.WriteRune('\\')
			}
			e.WriteRune(r)
		}
		e.WriteRune('\'')
		return e.String()
	}
	dsn := fmt.Sprintf("host=%v user=%v password=%v dbname=%v", escape(db.Host), escape(db.Username), escape(db.Password), escape(db.Database))
	if db.Port != 0 {
		dsn += fmt.Sprintf(" port=%v", db.Port)
	}
	if db.SSLKey != "" {
		dsn += fmt.Sprintf(" sslmode=require sslcert=%v sslkey=%v sslrootcert=%v", escape(db.SSLCert), escape(db.SSLKey), escape(db.SSLRootCert))
	} else {
		dsn += " sslmode=disable"
	}
	return dsn
}

// MakeMigrations turns a sequence of SQL expression into burntsushi migrations.
func MakeMigrations(log logs.Log, sql []string) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0
	for _, str := range sql {
		migs = append(migs, MakeMigrationFromSQL(log, &idx, str))
	}
	return migs
}

// MakeMigrationFromSQL turns an SQL string into a burntsushi migration
func MakeMigrationFromSQL(log logs.Log, migrationNumber *int, sql string) migration.Migrator {
	idx := *migrationNumber + 1
	*migrationNumber++

	return func(tx migration.LimitedTx) error {
		log.Infof("Running migration %v: '%v...'", idx, migrationSummary(sql))
		_, err := tx.Exec(sql)
		return err
	}
}

// First line of the migration, up to 40 characters
func migrationSummary(sql string) string {
	summary := strings.TrimSpace(sql)
	l := min(len(summary), 40)
	if nl := strings.IndexAny(summary, "\n\r"); nl != -1 && nl < l {
		l = nl
	}
	return summary[:l]
}

// OpenDB creates a new DB, or opens an existing one, and runs all the migrations before returning.
func OpenDB(log logs.Log, dbc DBConfig, migrations []migration.Migrator, flags DBConnectFlags) (*gorm.DB, error) {
	if err := dbc.Validate(); err != nil {
		return nil, err
	}
	if flags&DBConnectFlagWipeDB != 0 {
		if err := DropAllTables(log, dbc); err != nil {
			return nil, err
		}
	}

	// This is the common fast path, where the database has been created
	db, err := migration.Open(dbc.Driver, dbc.DSN(), migrations)
	if err == nil {
		db.Close()
		return gormOpen(log, dbc.Driver, dbc.DSN())
	}

	// Automatically create the database if it doesn't already exist
	if !isDatabaseNotExist(err) {
		return nil, err
	}

	log.Infof("Attempting to create database %v", dbc.Database)

	cfgCreate := dbc

	if dbc.Driver == DriverPostgres {
		// connect to the 'postgres' database in order to create the new DB
		cfgCreate.Database = "postgres"
	}

	if err := createDB(dbc.Driver, cfgCreate.DSN(), dbc.Database); err != nil {
		return nil, fmt.Errorf("While trying to create database '%v': %w", dbc.Database, err)
	}
	db, err = migration.Open(dbc.Driver, dbc.DSN(), migrations)
	if err != nil {
		return nil, err
	}
	db.Close()
	return gormOpen(log, dbc.Driver, dbc.DSN())
}

// DropAllTables delete all tables in the given database.
// If the database does not exist, returns nil.
// This function is intended to be used by unit tests.
func DropAllTables(log logs.Log, dbc DBConfig) error {
	if dbc.Driver == DriverSqlite {
		err := os.Remove(dbc.Database)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if dbc.Driver != DriverPostgres {
		return fmt.Errorf("DropAllTables not supported on %v", dbc.Driver)
	}
	db, err := sql.Open(dbc.Driver, dbc.DSN())
	if err == nil {
		// Force delay-connect drivers to attempt a connect now
		err = db.Ping()
	}
	if isDatabaseNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	defer db.Close()
	log.Warnf("Erasing entire DB '%v'", dbc.Database)
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := dropAllTablesPostgres(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func dropAllTablesPostgres(tx *sql.Tx) error {
	tables, err := ScanArray[string](tx.Query(`
	SELECT '"' || table_schema || '"."' || table_name || '"'
	FROM information_schema.tables
	WHERE
	table_schema <> 'pg_catalog' AND
	table_schema <> 'information_schema' AND
	table_type = 'BASE TABLE'`))
	if err != nil {
		return err
	}
	for _, table := range tables {
		if _, err := tx.Exec(fmt.Sprintf("DROP TABLE %v CASCADE", table)); err != nil {
			return err
		}
	}
	return nil
}

// gormWriter sends gorm's slow-query and error messages to our log
type gormWriter struct {
	log logs.Log
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warnf(strings.TrimSpace(format), args...)
}

func gormOpen(log logs.Log, driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSqlite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("Unsupported database driver '%v'", driver)
	}

	newLogger := logger.New(
		gormWriter{log},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true, // Record not found is never a loggable thing.
			Colorful:                  false,
		},
	)

	config := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			// Our migrations are hand-written SQL, so keep table names singular.
			SingularTable: true,
		},
		Logger: newLogger,
	}
	return gorm.Open(dialector, config)
}

func isDatabaseNotExist(err error) bool {
	if err == nil {
		return false
	}
	return DBNotExistRegex.MatchString(err.Error())
}

// Create a database called dbCreateName, by connecting to dsn.
func createDB(driver, dsn, dbCreateName string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.Exec("CREATE DATABASE " + dbCreateName); err != nil {
		return err
	}
	return nil
}

func init() {
	// Checking for "does not exist" is not sufficient, because that can get
	// hit while running a migration on an incorrect field name.
	//
	// True positive error examples:
	// pq: database "testx" does not exist
	DBNotExistRegex = regexp.MustCompile(`database "[^"]+" does not exist`)
}
