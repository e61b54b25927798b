package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/creatorpay/pkg/db"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// RunMigrations brings the schema up to date for the connection's dialect.
// Postgres and MySQL are tracked by golang-migrate; sqlite is only used for
// local single-node runs and tests and keeps its own version table.
func RunMigrations(conn *gorm.DB, dialect string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case db.TypeSQLite:
		return applySQLite(conn)
	case db.TypePostgres, db.TypeMySQL:
	default:
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, driverName, err := migrationDriver(sqlDB, dialect)
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

func migrationDriver(sqlDB *sql.DB, dialect string) (database.Driver, string, error) {
	if strings.EqualFold(strings.TrimSpace(dialect), db.TypeMySQL) {
		driver, err := migratemysql.WithInstance(sqlDB, &migratemysql.Config{})
		return driver, db.TypeMySQL, err
	}
	driver, err := migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{})
	return driver, db.TypePostgres, err
}

const sqliteVersionTable = "schema_versions"

type upScript struct {
	version    string
	statements []string
}

// applySQLite runs every up script whose version is not yet recorded, each
// in its own transaction.
func applySQLite(conn *gorm.DB) error {
	if err := conn.Exec("CREATE TABLE IF NOT EXISTS " + sqliteVersionTable + " (version VARCHAR(64) PRIMARY KEY)").Error; err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	var applied []string
	if err := conn.Table(sqliteVersionTable).Pluck("version", &applied).Error; err != nil {
		return fmt.Errorf("read applied versions: %w", err)
	}
	done := make(map[string]struct{}, len(applied))
	for _, version := range applied {
		done[version] = struct{}{}
	}

	scripts, err := upScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, ok := done[script.version]; ok {
			continue
		}
		err := conn.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range script.statements {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("apply migration %s: %w", script.version, err)
				}
			}
			return tx.Exec("INSERT INTO "+sqliteVersionTable+" (version) VALUES (?)", script.version).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UpStatements returns every statement of the embedded up scripts in version
// order.
func UpStatements() ([]string, error) {
	scripts, err := upScripts()
	if err != nil {
		return nil, err
	}
	var statements []string
	for _, script := range scripts {
		statements = append(statements, script.statements...)
	}
	return statements, nil
}

func upScripts() ([]upScript, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	scripts := make([]upScript, 0, len(names))
	for _, name := range names {
		raw, err := embeddedMigrations.ReadFile(migrationsDir + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		script := upScript{version: strings.SplitN(name, "_", 2)[0]}
		for _, stmt := range strings.Split(string(raw), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			script.statements = append(script.statements, stmt)
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}
