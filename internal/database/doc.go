// Package database provides PostgreSQL connection pool management.
//
// The gateway keeps all durable state in one database: the idempotency
// mapping and the periodic state snapshots.
package database
