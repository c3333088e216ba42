// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

A .env file in the working directory is loaded before anything else. Values
already present in the environment are not overwritten by it.

# CLI Flags and Environment Variables

Every flag falls back to an environment variable. CLI flags take precedence.

	-p                    PORT                (default 3318)
	-d                    DATABASE_URL        (required)
	-t                    DATABASE_TYPE       sqlite | postgres (default sqlite)
	-admin-salt           ADMIN_KEY_SALT      (required)
	-ledger               LEDGER_BACKEND      memory | polygon (default memory)
	-rpc                  POLYGON_RPC
	                      PRIVATE_KEY         (env only)
	-contract             CONTRACT_ADDRESS
	-relay-interval       RELAY_INTERVAL      (default 15s)
	-relay-max-attempts   RELAY_MAX_ATTEMPTS  (default 8)
	-reconcile-schedule   RECONCILE_SCHEDULE  (default "@every 10m")
	-expire-schedule      EXPIRE_SCHEDULE     (default "@every 1m")

An explicitly empty schedule, from either source, disables that job.

# Validation

ParseFlags returns an error if:

  - DATABASE_URL or ADMIN_KEY_SALT is missing
  - the database type or ledger backend is unknown
  - the polygon ledger is selected without RPC endpoint, key and contract
  - a numeric or duration value does not parse
*/
package cliparse
