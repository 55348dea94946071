// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL. Records keep their indexed fields in columns and the full
// document in a JSONB column. Jobs are claimed with SKIP LOCKED, locks
// are rows with an expiry that an insert may only take over once expired,
// and migrations are embedded SQL files.
package postgres
