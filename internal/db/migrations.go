package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// GetSchemaVersion returns the recorded schema version, 0 for a fresh database
func (db *DB) GetSchemaVersion() (int, error) {
	var raw string
	err := db.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("schema version %q: %w", raw, err)
	}
	return v, nil
}

func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		strconv.Itoa(version))
	return err
}

// RunMigrations brings the schema up to SchemaVersion. Safe to call on every open.
func (db *DB) RunMigrations() (int, error) {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	currentVersion, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	migrationsRun := 0
	if currentVersion == 0 {
		if _, err := db.conn.Exec(schema); err != nil {
			return 0, fmt.Errorf("create schema: %w", err)
		}
		if err := db.setSchemaVersion(1); err != nil {
			return 0, fmt.Errorf("set version 1: %w", err)
		}
		currentVersion = 1
		migrationsRun++
	}

	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if _, err := db.conn.Exec(migration.SQL); err != nil {
			return migrationsRun, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		if err := db.setSchemaVersion(migration.Version); err != nil {
			return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
		}
		migrationsRun++
	}

	return migrationsRun, nil
}
