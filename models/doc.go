// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines domain, request and response types and the domain
error taxonomy.

# Domain Types

  - Election, Candidate, ElectionWithCandidates
  - Invite: single-use credential; pending, then used or expired
  - Vote: one per invite, final once stored
  - LedgerWrite: a pending or finished publication to the external ledger

# Errors

Every domain failure is a *Error with a Kind and a stable Code. Compare with
errors.Is against the sentinels (ErrInviteAlreadyVoted and so on); callers at
the HTTP boundary use KindOf to pick a status.
*/
package models
