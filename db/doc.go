// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles database connections and schema creation.

# Connecting

Open selects the driver from the configured database type:

	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)

  - sqlite: modernc.org/sqlite (pure Go), single connection, foreign keys on
  - postgres: github.com/lib/pq

All queries use $N placeholders, which both drivers accept.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - election: Title, time window [start_date, end_date), active flag
  - candidate: Choices belonging to one election
  - election_invite: Single-use codes, status pending/used/expired
  - vote: One row per used invite (UNIQUE invite_id), optional tx_hash
  - ledger_write: Relay outbox rows and reconciliation audit rows

# Relationships

	election 1──* candidate
	election 1──* election_invite
	election_invite 1──1 vote
	candidate 1──* vote
	vote 1──* ledger_write

Foreign keys carry no ON DELETE action. Deleting an election is an explicit
transaction that removes dependents in foreign-key order (see package elections).

# Constraint Errors

IsUniqueViolation recognizes unique-key failures from both drivers
(SQLSTATE 23505, SQLITE_CONSTRAINT_UNIQUE / SQLITE_CONSTRAINT_PRIMARYKEY).
*/
package db
