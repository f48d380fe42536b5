// Package store provides durable storage for disbursement schedules, award
// lines, the overaward ledger and sequence counters.
//
// Two dialects are supported behind database/sql:
//   - SQLite (github.com/mattn/go-sqlite3) for single-node deployments and tests
//   - PostgreSQL (github.com/jackc/pgx/v5/stdlib) selected by a postgres:// DSN
//
// # Units of Work
//
// Every mutation goes through Store.WithTx, which hands the callback an
// explicit *Tx. The transaction is rolled back on every exit path that is not
// a successful commit, including panics. A timeout bounds the whole unit of
// work; on PostgreSQL the server is also told to abort the session if the
// transaction sits idle longer than that, so a crashed caller cannot hold
// row locks indefinitely.
//
// # Locking
//
// PostgreSQL takes row locks with SELECT ... FOR UPDATE. SQLite has no row
// locks: transactions begin IMMEDIATE (writer lock at BEGIN) and the pool is
// limited to one connection, which serializes every unit of work.
//
// # Money
//
// Amounts are stored as exact decimal text (NUMERIC on PostgreSQL) and summed
// in Go with shopspring/decimal. The database never aggregates money.
//
// # Invariants
//
// Single-row updates check RowsAffected and fail with ErrInvariant when the
// count is not exactly one. Callers treat that as fatal for the unit of work.
package store
