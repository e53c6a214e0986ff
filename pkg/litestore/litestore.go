// Package litestore is Latchflow's "lite mode" store, selected by a
// DATABASE_URL of the form sqlite:<path>: the same store interfaces
// pkg/pgstore implements against Postgres, backed instead by
// modernc.org/sqlite for a zero-dependency local/dev loop.
//
// Lite mode trades the Postgres path's concurrency headroom (no advisory
// locks, no connection pooling tuning) for a single file anyone can delete
// to reset state; it is not a multi-process deployment target. The
// Postgres queue driver is unavailable under it (cmd/latchflowd refuses
// QUEUE_DRIVER=postgres with a sqlite: URL); memory and redis are accepted.
package litestore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the shared *sql.DB every lite store reads/writes through.
type DB struct {
	conn *sql.DB
}

// Open creates (or reuses) a SQLite database file at path and applies the
// lite-mode schema. path may be ":memory:" for ephemeral test use.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("litestore: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("litestore: enable foreign keys: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

func (d *DB) migrate() error {
	_, err := d.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("litestore: apply schema: %w", err)
	}
	return nil
}

// joinTags/splitTags stand in for Postgres's native TEXT[] (via lib/pq):
// SQLite has no array type, so tag/scope lists persist as a comma-joined
// string. Empty elements are never expected from callers (tags and scopes
// are validated upstream), so a plain Split/Join round-trips cleanly.
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// timeStr/parseTime round-trip time.Time through SQLite's TEXT storage
// class as UTC RFC 3339 with nanoseconds. Trailing zeros of the fraction
// are dropped, so the strings are not fixed-width and do not sort
// lexically in time order.
func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTimeStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeStr(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS changelog_entries (entity_type TEXT NOT NULL, entity_id TEXT NOT NULL, version INTEGER NOT NULL,
  is_snapshot INTEGER NOT NULL, state_json TEXT, diff_json TEXT, hash TEXT NOT NULL,
  actor_json TEXT NOT NULL, change_note TEXT, changed_path TEXT, change_kind TEXT,
  created_at TEXT NOT NULL,
  PRIMARY KEY (entity_type, entity_id, version));

CREATE TABLE IF NOT EXISTS bundles (id TEXT PRIMARY KEY, name TEXT NOT NULL, description TEXT, updated_at TEXT NOT NULL,
  storage_key TEXT, checksum TEXT, size INTEGER, digest TEXT,
  verification_required INTEGER NOT NULL DEFAULT 0);

CREATE TABLE IF NOT EXISTS recipients (id TEXT PRIMARY KEY, email TEXT NOT NULL, name TEXT, tags TEXT);

CREATE TABLE IF NOT EXISTS bundle_references (bundle_id TEXT NOT NULL);

CREATE TABLE IF NOT EXISTS bundle_assignments (bundle_id TEXT NOT NULL, recipient_id TEXT NOT NULL,
  max_downloads INTEGER, downloads_used INTEGER NOT NULL DEFAULT 0,
  cooldown_seconds INTEGER, last_download_at TEXT, verified INTEGER NOT NULL DEFAULT 0);
CREATE TABLE IF NOT EXISTS bundle_tags (bundle_id TEXT NOT NULL, tag TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS bundle_objects (bundle_id TEXT NOT NULL, path TEXT NOT NULL, size INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS bundle_composition (bundle_id TEXT NOT NULL, file_id TEXT NOT NULL, content_hash TEXT, path TEXT,
  file_key TEXT, required INTEGER NOT NULL DEFAULT 1, sort_order INTEGER NOT NULL DEFAULT 0,
  is_enabled INTEGER NOT NULL DEFAULT 1, storage_key TEXT);
CREATE TABLE IF NOT EXISTS download_events (bundle_id TEXT NOT NULL, recipient_id TEXT NOT NULL, occurred_at TEXT NOT NULL);

CREATE TABLE IF NOT EXISTS trigger_events (id TEXT PRIMARY KEY, trigger_definition_id TEXT NOT NULL, context_json TEXT, created_at TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS trigger_action_mappings (trigger_definition_id TEXT NOT NULL, action_definition_id TEXT NOT NULL,
  sort_order INTEGER NOT NULL DEFAULT 0, enabled INTEGER NOT NULL DEFAULT 1);

CREATE TABLE IF NOT EXISTS action_definitions (id TEXT PRIMARY KEY, capability_id TEXT NOT NULL, config_json TEXT);
CREATE TABLE IF NOT EXISTS action_invocations (action_definition_id TEXT NOT NULL, trigger_event_id TEXT NOT NULL, status TEXT NOT NULL,
  started_at TEXT NOT NULL, finished_at TEXT NOT NULL, output_json TEXT, error TEXT);

CREATE TABLE IF NOT EXISTS admin_users (id TEXT PRIMARY KEY, email TEXT UNIQUE NOT NULL, role TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1, mfa_enabled INTEGER NOT NULL DEFAULT 0,
  permission_preset_id TEXT, direct_permissions_json TEXT);
CREATE TABLE IF NOT EXISTS permission_presets (id TEXT PRIMARY KEY, version INTEGER NOT NULL, rules_json TEXT);

CREATE TABLE IF NOT EXISTS admin_sessions (token_hash TEXT PRIMARY KEY, user_id TEXT NOT NULL, created_at TEXT NOT NULL,
  expires_at TEXT NOT NULL, reauthenticated_at TEXT, mfa_verified_at TEXT);
CREATE TABLE IF NOT EXISTS recipient_sessions (token_hash TEXT PRIMARY KEY, recipient TEXT NOT NULL, tags TEXT,
  created_at TEXT NOT NULL, expires_at TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS magic_links (token_hash TEXT PRIMARY KEY, email TEXT NOT NULL, created_at TEXT NOT NULL,
  expires_at TEXT NOT NULL, used INTEGER NOT NULL DEFAULT 0);
CREATE TABLE IF NOT EXISTS otp_challenges (recipient TEXT PRIMARY KEY, code_hash TEXT NOT NULL, created_at TEXT NOT NULL,
  expires_at TEXT NOT NULL, attempts INTEGER NOT NULL DEFAULT 0, max_attempts INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS device_codes (device_code TEXT PRIMARY KEY, user_code TEXT UNIQUE NOT NULL, approved INTEGER NOT NULL DEFAULT 0,
  user_id TEXT, token_id TEXT, created_at TEXT NOT NULL, expires_at TEXT NOT NULL, interval_s INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS api_tokens (id TEXT PRIMARY KEY, prefix TEXT NOT NULL, token_hash TEXT UNIQUE NOT NULL, user_id TEXT NOT NULL,
  scopes TEXT, created_at TEXT NOT NULL, expires_at TEXT, last_used_at TEXT, revoked INTEGER NOT NULL DEFAULT 0);
`
