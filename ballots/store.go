// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ballots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/elections"
	"github.com/danielhkuo/chainballot/models"
)

// Store is the append-only vote table and the tallies derived from it.
type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

const voteColumns = `id, election_id, candidate_id, invite_id, tx_hash, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVote(row rowScanner) (models.Vote, error) {
	var v models.Vote
	err := row.Scan(&v.ID, &v.ElectionID, &v.CandidateID, &v.InviteID, &v.TxHash, &v.CreatedAt)
	return v, err
}

// InsertTx appends a vote. A second vote for the same invite hits the unique
// index and is reported as models.ErrInviteAlreadyVoted.
func InsertTx(ctx context.Context, q db.Queryer, v models.Vote) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO vote (id, election_id, candidate_id, invite_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, v.ID, v.ElectionID, v.CandidateID, v.InviteID, v.CreatedAt)
	if db.IsUniqueViolation(err) {
		return models.ErrInviteAlreadyVoted
	}
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// Get returns a vote by ID or models.ErrVoteNotFound.
func (s *Store) Get(ctx context.Context, id string) (models.Vote, error) {
	v, err := scanVote(s.db.QueryRowContext(ctx, `
		SELECT `+voteColumns+`
		FROM vote
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vote{}, models.ErrVoteNotFound
	}
	if err != nil {
		return models.Vote{}, fmt.Errorf("query vote: %w", err)
	}
	return v, nil
}

// ExistsForInvite reports whether a vote already references the invite.
func (s *Store) ExistsForInvite(ctx context.Context, inviteID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM vote WHERE invite_id = $1)
	`, inviteID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check vote for invite: %w", err)
	}
	return exists, nil
}

// CandidateCount returns the number of votes recorded for one candidate.
func CandidateCount(ctx context.Context, q db.Queryer, candidateID string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vote WHERE candidate_id = $1
	`, candidateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}

// Results tallies an election from the vote table. Candidates without votes
// are included; order is vote count descending, then name.
func (s *Store) Results(ctx context.Context, electionID string) (models.ElectionResults, error) {
	election, err := elections.GetElection(ctx, s.db, electionID)
	if err != nil {
		return models.ElectionResults{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, COUNT(v.id) AS vote_count
		FROM candidate c
		LEFT JOIN vote v ON v.candidate_id = c.id
		WHERE c.election_id = $1
		GROUP BY c.id, c.name
		ORDER BY vote_count DESC, c.name, c.id
	`, electionID)
	if err != nil {
		return models.ElectionResults{}, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := models.ElectionResults{
		ElectionID:       election.ID,
		ElectionTitle:    election.Title,
		CandidateResults: []models.CandidateResult{},
	}
	for rows.Next() {
		var r models.CandidateResult
		if err := rows.Scan(&r.CandidateID, &r.CandidateName, &r.VoteCount); err != nil {
			return models.ElectionResults{}, fmt.Errorf("scan result: %w", err)
		}
		results.TotalVotes += r.VoteCount
		results.CandidateResults = append(results.CandidateResults, r)
	}
	return results, rows.Err()
}

// SetTxHash records the external ledger reference on the given votes.
func SetTxHash(ctx context.Context, q db.Queryer, voteIDs []string, txHash string) error {
	if len(voteIDs) == 0 {
		return nil
	}

	placeholders := make([]string, len(voteIDs))
	args := make([]any, 0, len(voteIDs)+1)
	args = append(args, txHash)
	for i, id := range voteIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	_, err := q.ExecContext(ctx, `
		UPDATE vote SET tx_hash = $1
		WHERE id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("set vote tx hash: %w", err)
	}
	return nil
}
