// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package relay

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/ballots"
	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/models"
)

const writeColumns = `id, kind, election_id, candidate_id, vote_id, delta, status, tx_hash,
	attempts, last_error, last_attempt_at, next_attempt_at, created_at`

func scanWrite(rows *sql.Rows) (models.LedgerWrite, error) {
	var w models.LedgerWrite
	err := rows.Scan(&w.ID, &w.Kind, &w.ElectionID, &w.CandidateID, &w.VoteID, &w.Delta, &w.Status, &w.TxHash,
		&w.Attempts, &w.LastError, &w.LastAttemptAt, &w.NextAttemptAt, &w.CreatedAt)
	return w, err
}

func queryWrites(ctx context.Context, q db.Queryer, where string, args ...any) ([]models.LedgerWrite, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+writeColumns+`
		FROM ledger_write
		WHERE `+where+`
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger writes: %w", err)
	}
	defer rows.Close()

	writes := []models.LedgerWrite{}
	for rows.Next() {
		w, err := scanWrite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger write: %w", err)
		}
		writes = append(writes, w)
	}
	return writes, rows.Err()
}

// insertWrite stores a ledger write row.
func insertWrite(ctx context.Context, q db.Queryer, w models.LedgerWrite) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_write (id, kind, election_id, candidate_id, vote_id, delta, status, tx_hash,
			attempts, last_error, last_attempt_at, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, w.ID, w.Kind, w.ElectionID, w.CandidateID, db.Nullable(w.VoteID), w.Delta, w.Status, db.Nullable(w.TxHash),
		w.Attempts, db.Nullable(w.LastError), db.Nullable(w.LastAttemptAt), w.NextAttemptAt.UTC(), w.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert ledger write: %w", err)
	}
	return nil
}

// newVoteWrite is the pending row that accompanies a committed vote.
func newVoteWrite(vote models.Vote, now time.Time) models.LedgerWrite {
	voteID := vote.ID
	return models.LedgerWrite{
		ID:            auth.NewID(),
		Kind:          models.WriteKindVote,
		ElectionID:    vote.ElectionID,
		CandidateID:   vote.CandidateID,
		VoteID:        &voteID,
		Delta:         1,
		Status:        models.WriteStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// openWrites returns the rows a publication for candidateID would settle:
// pending rows and rows that exhausted their retries.
func openWrites(ctx context.Context, q db.Queryer, candidateID string) ([]models.LedgerWrite, error) {
	return queryWrites(ctx, q, `candidate_id = $1 AND status IN ($2, $3)`,
		candidateID, models.WriteStatusPending, models.WriteStatusFailed)
}

// settleWrites marks rows with a terminal status and, for sent rows, copies
// the transaction hash onto the votes they carried.
func settleWrites(ctx context.Context, q db.Queryer, writes []models.LedgerWrite, status string, txHash *string, now time.Time) error {
	if len(writes) == 0 {
		return nil
	}

	ids := make([]any, 0, len(writes))
	var voteIDs []string
	for _, w := range writes {
		ids = append(ids, w.ID)
		if w.VoteID != nil {
			voteIDs = append(voteIDs, *w.VoteID)
		}
	}

	args := append([]any{status, db.Nullable(txHash), now.UTC()}, ids...)
	_, err := q.ExecContext(ctx, `
		UPDATE ledger_write
		SET status = $1, tx_hash = $2, last_attempt_at = $3, last_error = NULL
		WHERE id IN (`+placeholders(4, len(ids))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("settle ledger writes: %w", err)
	}

	if status == models.WriteStatusSent && txHash != nil {
		return ballots.SetTxHash(ctx, q, voteIDs, *txHash)
	}
	return nil
}

// recordAttempt stores a failed attempt on a pending row.
func recordAttempt(ctx context.Context, q db.Queryer, w models.LedgerWrite) error {
	_, err := q.ExecContext(ctx, `
		UPDATE ledger_write
		SET status = $1, attempts = $2, last_error = $3, last_attempt_at = $4, next_attempt_at = $5
		WHERE id = $6 AND status = $7
	`, w.Status, w.Attempts, db.Nullable(w.LastError), db.Nullable(w.LastAttemptAt), w.NextAttemptAt.UTC(), w.ID, models.WriteStatusPending)
	if err != nil {
		return fmt.Errorf("record ledger write attempt: %w", err)
	}
	return nil
}

// placeholders renders "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}
