// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
// The DDL is kept to the subset shared by PostgreSQL and SQLite.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Elections
CREATE TABLE IF NOT EXISTS election (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    start_date TIMESTAMP NOT NULL,
    end_date TIMESTAMP NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (start_date < end_date)
);

-- Candidates
CREATE TABLE IF NOT EXISTS candidate (
    id TEXT PRIMARY KEY,
    election_id TEXT NOT NULL REFERENCES election(id),
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_candidate_election_id ON candidate(election_id);

-- Invites
CREATE TABLE IF NOT EXISTS election_invite (
    id TEXT PRIMARY KEY,
    election_id TEXT NOT NULL REFERENCES election(id),
    code TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'used', 'expired')),
    expires_at TIMESTAMP NOT NULL,
    used_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_election_invite_election_id ON election_invite(election_id);
CREATE INDEX IF NOT EXISTS idx_election_invite_status ON election_invite(status);

-- Votes (append-only; one per invite)
CREATE TABLE IF NOT EXISTS vote (
    id TEXT PRIMARY KEY,
    election_id TEXT NOT NULL REFERENCES election(id),
    candidate_id TEXT NOT NULL REFERENCES candidate(id),
    invite_id TEXT NOT NULL UNIQUE REFERENCES election_invite(id),
    tx_hash TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_vote_election_id ON vote(election_id);
CREATE INDEX IF NOT EXISTS idx_vote_candidate_id ON vote(candidate_id);

-- Ledger writes (relay outbox and reconciliation audit)
CREATE TABLE IF NOT EXISTS ledger_write (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL CHECK (kind IN ('vote', 'reconcile')),
    election_id TEXT NOT NULL REFERENCES election(id),
    candidate_id TEXT NOT NULL REFERENCES candidate(id),
    vote_id TEXT REFERENCES vote(id),
    delta BIGINT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'failed', 'superseded')),
    tx_hash TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    last_attempt_at TIMESTAMP,
    next_attempt_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ledger_write_status ON ledger_write(status);
CREATE INDEX IF NOT EXISTS idx_ledger_write_candidate_id ON ledger_write(candidate_id);

-- Ledger publication leases (one publisher per candidate across processes).
-- lease_expires_at is Unix nanoseconds so both engines compare it numerically.
CREATE TABLE IF NOT EXISTS ledger_publish_lock (
    candidate_id TEXT PRIMARY KEY REFERENCES candidate(id),
    holder TEXT,
    lease_expires_at BIGINT NOT NULL DEFAULT 0
);
`
