// Package sqlstore is the relational Store backend (spec §4.1, §6): a
// modernc.org/sqlite database reached through database/sql, with the
// engine's publish transaction mapped onto a BEGIN IMMEDIATE transaction
// pinned to a single connection.
package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// migration is one forward-only schema step, applied once and recorded in
// schema_version — the same bookkeeping the teacher's migration manager
// uses, trimmed to the single-direction case this store needs.
type migration struct {
	version     int
	description string
	up          func(*sql.Tx) error
}

func migrations() []migration {
	return []migration{
		{
			version:     1,
			description: "initial schema: networks, nodes, records, changes, messages, remotes",
			up: func(tx *sql.Tx) error {
				_, err := tx.Exec(schemaV1)
				return err
			},
		},
	}
}

// migrate brings db up to the latest schema version, logging each applied
// step the way the teacher's MigrationManager.Migrate does.
func migrate(db *sql.DB, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations() {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version, description) VALUES (?, ?)", m.version, m.description); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		log.Infof("applied schema migration %d: %s", m.version, m.description)
	}

	return nil
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS networks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	fetch_before_send INTEGER NOT NULL DEFAULT 0,
	schema_json TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	can_create INTEGER NOT NULL DEFAULT 0,
	can_read INTEGER NOT NULL DEFAULT 0,
	can_update INTEGER NOT NULL DEFAULT 0,
	can_delete INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	head_id TEXT NOT NULL DEFAULT '',
	deleted INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS changes (
	id TEXT PRIMARY KEY,
	record_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	method TEXT NOT NULL,
	payload_json TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_changes_record_version ON changes(record_id, version);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	origin_id TEXT,
	destination_id TEXT NOT NULL,
	record_id TEXT NOT NULL,
	change_id TEXT NOT NULL,
	method TEXT NOT NULL,
	remote_id TEXT,
	state TEXT NOT NULL,
	parent_id TEXT,
	reason TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_dest_state ON messages(destination_id, state, created_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_dest_change ON messages(destination_id, change_id, state);

CREATE TABLE IF NOT EXISTS remotes (
	node_id TEXT NOT NULL,
	record_id TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	PRIMARY KEY (node_id, record_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_remotes_alias ON remotes(node_id, remote_id);
`
