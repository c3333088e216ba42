package models

import "time"

// Invite status constants
const (
	InviteStatusPending = "pending"
	InviteStatusUsed    = "used"
	InviteStatusExpired = "expired"
)

// Ledger write status constants
const (
	WriteStatusPending    = "pending"
	WriteStatusSent       = "sent"
	WriteStatusFailed     = "failed"
	WriteStatusSuperseded = "superseded"
)

// Ledger write kinds
const (
	WriteKindVote      = "vote"
	WriteKindReconcile = "reconcile"
)

// Invite creation bounds
const (
	MaxBulkInvites    = 100
	DefaultInviteTTL  = 7 * 24 * time.Hour
	InviteCodeLength  = 10
	MinElectionChoice = 2
)

// Request types

type CandidateInput struct {
	Name        string `json:"name" validate:"required,min=3,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type CreateElectionRequest struct {
	Title       string           `json:"title" validate:"required,min=3,max=100"`
	Description string           `json:"description" validate:"max=500"`
	StartDate   time.Time        `json:"start_date" validate:"required"`
	EndDate     time.Time        `json:"end_date" validate:"required"`
	IsActive    *bool            `json:"is_active"`
	Candidates  []CandidateInput `json:"candidates" validate:"required,min=2,dive"`
}

// UpdateElectionRequest changes only the fields it carries. Candidates are
// fixed at creation.
type UpdateElectionRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=3,max=100"`
	Description *string    `json:"description" validate:"omitempty,max=500"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	IsActive    *bool      `json:"is_active"`
}

type CreateInviteRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

type BulkInviteRequest struct {
	Quantity  int        `json:"quantity" validate:"required,gt=0,lte=100"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type CastVoteRequest struct {
	CandidateID string `json:"candidate_id" validate:"required"`
	InviteCode  string `json:"invite_code" validate:"required"`
}

// Response types

type CreateElectionResponse struct {
	Election ElectionWithCandidates `json:"election"`
	AdminKey string                 `json:"admin_key"`
}

type ValidateInviteResponse struct {
	Valid bool `json:"valid"`
}

type CandidateResult struct {
	CandidateID   string `json:"candidate_id"`
	CandidateName string `json:"candidate_name"`
	VoteCount     int64  `json:"vote_count"`
}

type ElectionResults struct {
	ElectionID       string            `json:"election_id"`
	ElectionTitle    string            `json:"election_title"`
	TotalVotes       int64             `json:"total_votes"`
	CandidateResults []CandidateResult `json:"candidate_results"`
}

type CandidateVerification struct {
	CandidateID   string `json:"candidate_id"`
	CandidateName string `json:"candidate_name"`
	LocalVotes    int64  `json:"local_votes"`
	ChainVotes    int64  `json:"chain_votes"`
	InSync        bool   `json:"in_sync"`
}

type VerificationReport struct {
	ElectionID string                  `json:"election_id"`
	InSync     bool                    `json:"in_sync"`
	Candidates []CandidateVerification `json:"candidates"`
}

type CandidateReconciliation struct {
	CandidateID   string `json:"candidate_id"`
	CandidateName string `json:"candidate_name"`
	LocalVotes    int64  `json:"local_votes"`
	ChainVotes    int64  `json:"chain_votes"`
	Registered    int64  `json:"registered"`
	TxHash        string `json:"transaction_hash,omitempty"`
	Error         string `json:"error,omitempty"`
}

type ReconcileReport struct {
	ElectionID string                    `json:"election_id"`
	Registered int64                     `json:"registered"`
	Failed     int                       `json:"failed"`
	Candidates []CandidateReconciliation `json:"candidates"`
}

type ExpireInvitesResponse struct {
	Expired int64 `json:"expired"`
}

// Domain types

type Election struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Open reports whether votes may be cast at now: active and now in [start, end).
func (e Election) Open(now time.Time) bool {
	return e.IsActive && !now.Before(e.StartDate) && now.Before(e.EndDate)
}

type Candidate struct {
	ID          string    `json:"id"`
	ElectionID  string    `json:"election_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type ElectionWithCandidates struct {
	Election
	Candidates []Candidate `json:"candidates"`
}

type Invite struct {
	ID         string     `json:"id"`
	ElectionID string     `json:"election_id"`
	Code       string     `json:"code"`
	Status     string     `json:"status"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Vote struct {
	ID          string    `json:"id"`
	ElectionID  string    `json:"election_id"`
	CandidateID string    `json:"candidate_id"`
	InviteID    string    `json:"invite_id"`
	TxHash      *string   `json:"transaction_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LedgerWrite is one attempt (or pending attempt) to publish votes to the external ledger.
type LedgerWrite struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	ElectionID    string     `json:"election_id"`
	CandidateID   string     `json:"candidate_id"`
	VoteID        *string    `json:"vote_id,omitempty"`
	Delta         int64      `json:"delta"`
	Status        string     `json:"status"`
	TxHash        *string    `json:"tx_hash,omitempty"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
