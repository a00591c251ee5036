// Package postgres implements store.Store using pgx/v5 with raw SQL.
// Claims use SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never
// block on each other, and every outcome write is conditional on the
// caller's lease. Migrations are embedded SQL files.
package postgres
