// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the chainballot API server.

chainballot runs invite-gated elections. Each invite authorizes exactly one
vote. Votes are stored locally and relayed to an external append-only ledger
(an EVM contract on Polygon, or an in-memory ledger for development) so
tallies can be verified independently.

# Starting the Server

The server reads CLI flags with environment fallback; a .env file is loaded
if present:

	DATABASE_URL=chainballot.db ADMIN_KEY_SALT=... go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..." -admin-salt ...

# Configuration

Required settings:

  - DATABASE_URL (-d): database location
  - ADMIN_KEY_SALT (-admin-salt): secret for admin key HMAC

Optional settings:

  - PORT (-p): server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - LEDGER_BACKEND (-ledger): memory or polygon (default: memory)
  - POLYGON_RPC (-rpc), PRIVATE_KEY, CONTRACT_ADDRESS (-contract): polygon settings
  - RELAY_INTERVAL, RELAY_MAX_ATTEMPTS: relay worker tuning
  - RECONCILE_SCHEDULE, EXPIRE_SCHEDULE: cron specs, empty disables

# Architecture

  - handlers, router, middleware: HTTP surface
  - elections, invites, ballots: storage and the vote casting transaction
  - relay: outbox, relay worker and ledger backends (relay/polygon)
  - reconcile: republishes local tallies and verifies the ledger
  - jobs: cron schedule for reconciliation and invite expiry
  - models, auth, db, cliparse: shared types, keys, schema, configuration

The operator CLI lives in cmd/votectl.
*/
package main
