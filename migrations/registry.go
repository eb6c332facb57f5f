// Package migrations exposes the embedded credentials schema to the
// persistence client for the two supported dialects.
package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	credentials "github.com/goliatone/go-credentials"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// CoreSchema is the single migration pair every dialect ships.
	CoreSchema = "00001_credentials_core_schema"

	migrationsRoot = "data/sql/migrations"
)

// Dialect maps a database/sql driver name to the migration tree it uses.
func Dialect(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// FS returns the core schema migrations for a dialect. Postgres files live at
// the root of the tree and the sqlite variants in a sqlite/ subdirectory.
func FS(dialect string) (fs.FS, error) {
	dir := migrationsRoot
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dir += "/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(credentials.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	for _, suffix := range []string{".up.sql", ".down.sql"} {
		if _, err := fs.Stat(sub, CoreSchema+suffix); err != nil {
			return nil, fmt.Errorf("migrations: %s is missing %s%s: %w", dialect, CoreSchema, suffix, err)
		}
	}
	return sub, nil
}

// Register hands the schema for driver to the persistence client. Callers
// still run client.Migrate.
func Register(client *persistence.Client, driver string) (string, error) {
	if client == nil {
		return "", fmt.Errorf("migrations: persistence client is required")
	}
	dialect, err := Dialect(driver)
	if err != nil {
		return "", err
	}
	fsys, err := FS(dialect)
	if err != nil {
		return "", err
	}
	client.RegisterSQLMigrations(fsys)
	return dialect, nil
}
