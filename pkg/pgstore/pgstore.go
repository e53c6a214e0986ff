// Package pgstore is Latchflow's Postgres-backed implementation of the
// persistence boundaries pkg/changelog, pkg/admin, pkg/portal,
// pkg/authflow, pkg/bundle, pkg/trigger and pkg/action each declare as an
// interface. One *sql.DB is shared across every store, threaded through
// each *_store.go file via database/sql + lib/pq rather than an ORM.
//
// Store methods assume the schema already exists; DDL is applied by the
// operator's own migration tooling (each store's doc comment records the
// table shape it expects).
package pgstore

import "database/sql"

// DB wraps the shared connection pool every store in this package embeds.
type DB struct {
	conn *sql.DB
}

// New wraps an already-opened *sql.DB (lib/pq-backed, opened by
// cmd/latchflowd) for use by every store constructor in
// this package.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}
