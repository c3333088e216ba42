// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "errors"

// ErrorKind classifies a domain failure. Transport status codes are derived
// from the kind at the HTTP boundary only.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindInvalidState        ErrorKind = "invalid_state"
	KindConflict            ErrorKind = "conflict"
	KindExternalWriteFailed ErrorKind = "external_write_failed"
)

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Code so wrapped copies compare equal to the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrElectionNotFound  = newError(KindNotFound, "election_not_found", "Election not found")
	ErrCandidateNotFound = newError(KindNotFound, "candidate_not_found", "Candidate not found")
	ErrInviteNotFound    = newError(KindNotFound, "invite_not_found", "Invite not found")
	ErrVoteNotFound      = newError(KindNotFound, "vote_not_found", "Vote not found")

	ErrElectionInactive       = newError(KindInvalidState, "election_inactive", "Election is not active")
	ErrElectionNotStarted     = newError(KindInvalidState, "election_not_started", "Election has not started yet")
	ErrElectionEnded          = newError(KindInvalidState, "election_ended", "Election has ended")
	ErrElectionStarted        = newError(KindInvalidState, "election_started", "Cannot delete an election that has already started")
	ErrInvalidElectionWindow  = newError(KindInvalidState, "invalid_election_window", "End date must be after start date")
	ErrElectionStartInPast    = newError(KindInvalidState, "election_start_in_past", "Start date must be in the future")
	ErrTooFewCandidates       = newError(KindInvalidState, "too_few_candidates", "At least two candidates are required")
	ErrInvalidExpiry          = newError(KindInvalidState, "invalid_expiry", "Expiration must be in the future and not after the election end date")
	ErrInvitesOutlastElection = newError(KindInvalidState, "invites_outlast_election", "Pending invites expire after the new end date")
	ErrInvalidQuantity        = newError(KindInvalidState, "invalid_quantity", "Quantity must be between 1 and 100")
	ErrInviteNotPending       = newError(KindInvalidState, "invite_not_pending", "Invite is not pending")
	ErrInviteExpired          = newError(KindInvalidState, "invite_expired", "Invite has expired")
	ErrCandidateNotInElection = newError(KindInvalidState, "candidate_not_in_election", "Candidate does not belong to this election")

	ErrInviteAlreadyVoted = newError(KindConflict, "invite_already_voted", "This invite has already been used to vote")

	ErrRelayWriteFailed = newError(KindExternalWriteFailed, "relay_write_failed", "External ledger write failed")
)

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
