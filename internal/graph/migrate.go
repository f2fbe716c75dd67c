package graph

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// gooseVersionTable is goose's default bookkeeping table.
const gooseVersionTable = "goose_db_version"

func (b *SQLiteBackend) newMigrationProvider() (*goose.Provider, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectSQLite3, b.db, fsys)
}

// Migrate applies pending schema migrations. It is idempotent.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.migrateLocked(ctx)
}

func (b *SQLiteBackend) migrateLocked(ctx context.Context) error {
	provider, err := b.newMigrationProvider()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		b.logger.Info("applied migration",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration,
		)
	}
	return nil
}

// SetupTables drops the graph tables if they exist and recreates them
// with their indexes. All stored data is lost.
func (b *SQLiteBackend) SetupTables(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, table := range []string{"edges", "nodes", gooseVersionTable} {
		if _, err := b.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return &ErrBackend{Op: "drop " + table, Err: err}
		}
	}
	b.logger.Warn("dropped graph tables", "path", b.path)

	return b.migrateLocked(ctx)
}

// SchemaVersion returns the applied migration version.
func (b *SQLiteBackend) SchemaVersion(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	provider, err := b.newMigrationProvider()
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	return provider.GetDBVersion(ctx)
}
