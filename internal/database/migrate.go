package database

import (
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
)

func schemaVersion(conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// migrate applies the schema steps the store has not seen yet. A store
// written by a newer build is refused rather than read with a stale schema.
func migrate(conn *sql.DB) error {
	current, err := schemaVersion(conn)
	if err != nil {
		return err
	}
	if current > len(schema) {
		return fmt.Errorf("article store is at schema version %d, this build knows %d", current, len(schema))
	}

	for i := current; i < len(schema); i++ {
		m, version := schema[i], i+1
		log.Debugf("article store: applying schema %d (%s)", version, m.name)

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("schema %d: %w", version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("schema %d (%s): %w", version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("schema %d: commit: %w", version, err)
		}
		// Steps are idempotent, so a crash before the stamp only replays one.
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			return fmt.Errorf("schema %d: stamping version: %w", version, err)
		}
	}
	return nil
}
