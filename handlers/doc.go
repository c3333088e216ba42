// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains the HTTP handlers of the election API.

# Handler Types

Each handler is a struct built from the database and config:

  - ElectionHandler: election create, list, get, delete
  - InviteHandler: invite issuance, validation, use and expiry
  - VotingHandler: vote casting and results
  - LedgerHandler: reconciliation and verification against the external ledger

	electionHandler := handlers.NewElectionHandler(db, cfg)
	votingHandler := handlers.NewVotingHandler(db, cfg, relayer)

# Admin Operations

Creating an election returns an admin_key derived from the election ID.
Invite creation and listing, the expiry sweep, deletion, reconciliation and
verification require it in the X-Admin-Key header.

# Voting Flow

	POST /elections/{id}/invites/bulk      → CreateBulk (admin)
	POST /elections/invites/{code}/validate → ValidateInvite ({valid})
	POST /elections/vote                   → CastVote
	GET  /elections/{id}/results           → GetResults

A vote is final once CastVote returns 201. Publication to the external
ledger happens afterwards and never changes the response.

# Errors

Domain failures are written with middleware.DomainError, which maps the
error kind to a status: not found 404, invalid state 400, conflict 409.
*/
package handlers
