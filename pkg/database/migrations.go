package database

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	From    uint
	Version uint
	Dirty   bool
	Changed bool
}

func (db *DB) newMigrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(db.writeConn, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// latestVersion returns the highest migration version embedded in the binary.
func latestVersion() (uint, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, err
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := source.Next(version)
		if errors.Is(err, os.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, err
		}
		version = next
	}
}

// Migrate runs all pending migrations. When migrations are pending on an
// existing database file, the file is copied aside first.
func (db *DB) Migrate(dbPath string) (*MigrateResult, error) {
	m, err := db.newMigrator()
	if err != nil {
		return nil, err
	}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return nil, fmt.Errorf("database is dirty at version %d, restore from backup", from)
	}

	latest, err := latestVersion()
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	if from > 0 && from < latest {
		if err := backupDatabase(dbPath, from, db.logger); err != nil {
			return nil, fmt.Errorf("failed to backup database: %w", err)
		}
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	result := &MigrateResult{From: from, Version: version, Dirty: dirty, Changed: changed}
	if changed {
		db.logger.Info("migrations applied", zap.Uint("from", from), zap.Uint("version", version))
	} else {
		db.logger.Debug("migrations up to date", zap.Uint("version", version))
	}
	return result, nil
}

// backupDatabase copies the database file before migrating it
func backupDatabase(dbPath string, currentVersion uint, logger *zap.Logger) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	backupPath := fmt.Sprintf("%s.backup-v%d-%s", dbPath, currentVersion, time.Now().Format("20060102-150405"))

	src, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	logger.Info("created database backup", zap.String("file", filepath.Base(backupPath)))
	return nil
}
