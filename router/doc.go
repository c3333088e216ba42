// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the election API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(db, cfg, relayer, reconciler)

The relayer receives the ledger write of every cast vote; the reconciler
backs the reconcile and verify endpoints.

# Endpoints

Health:

	GET /health

Elections:

	POST   /elections        - Create election, returns admin_key
	GET    /elections        - List (limit, offset)
	GET    /elections/active - Elections open for voting now
	GET    /elections/{id}   - Election with candidates
	PUT    /elections/{id}   - Change window, details or is_active (admin)
	DELETE /elections/{id}   - Delete before start (admin)

Invites:

	POST /elections/{id}/invites          - Issue one invite (admin)
	POST /elections/{id}/invites/bulk     - Issue up to 100 invites (admin)
	GET  /elections/{id}/invites          - List invites (admin)
	POST /elections/{id}/invites/expire   - Expire stale invites (admin)
	POST /elections/invites/{code}/validate - Check an invite, no side effects
	POST /elections/invites/{code}/use      - Mark an invite used

Voting and results:

	POST /elections/vote          - Cast a vote with an invite code
	GET  /elections/{id}/results  - Tally from stored votes

External ledger (admin):

	POST /elections/{id}/reconcile - Republish local tallies
	GET  /elections/{id}/verify    - Compare local and ledger tallies
*/
package router
