// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ballots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/elections"
	"github.com/danielhkuo/chainballot/invites"
	"github.com/danielhkuo/chainballot/models"
)

// Outbox hands committed votes to the external ledger relay.
//
// EnqueueTx runs inside the vote's transaction so a ledger write exists if
// and only if the vote does. Notify is called after commit and must not
// block.
type Outbox interface {
	EnqueueTx(ctx context.Context, q db.Queryer, vote models.Vote) error
	Notify()
}

// Caster runs the vote casting transaction.
type Caster struct {
	db        *sql.DB
	invites   *invites.Ledger
	elections *elections.Store
	votes     *Store
	outbox    Outbox
	now       func() time.Time
}

func NewCaster(conn *sql.DB, outbox Outbox) *Caster {
	return &Caster{
		db:        conn,
		invites:   invites.NewLedger(conn),
		elections: elections.NewStore(conn),
		votes:     NewStore(conn),
		outbox:    outbox,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (c *Caster) WithClock(now func() time.Time) *Caster {
	c.now = now
	c.invites.WithClock(now)
	c.elections.WithClock(now)
	return c
}

// CastVote records one vote for candidateID using the invite identified by
// code. Every rejection happens before commit. Once the invite is consumed and
// the vote inserted the vote is final; the external ledger is only notified
// afterwards and its outcome never reaches the caller.
func (c *Caster) CastVote(ctx context.Context, candidateID, code string) (models.Vote, error) {
	inv, err := c.invites.GetByCode(ctx, code)
	if err != nil {
		return models.Vote{}, err
	}

	election, err := elections.GetElection(ctx, c.db, inv.ElectionID)
	if err != nil {
		return models.Vote{}, err
	}

	now := c.now().UTC()
	if err := invites.Eligible(inv, election, now); err != nil {
		switch {
		case errors.Is(err, models.ErrInviteExpired):
			if inv.Status == models.InviteStatusPending {
				c.invites.ExpireLazily(ctx, inv)
			}
		case errors.Is(err, models.ErrInviteNotPending):
			return models.Vote{}, models.ErrInviteAlreadyVoted
		}
		return models.Vote{}, err
	}

	candidate, err := c.elections.GetCandidate(ctx, candidateID)
	if err != nil {
		return models.Vote{}, err
	}
	if candidate.ElectionID != inv.ElectionID {
		return models.Vote{}, models.ErrCandidateNotInElection
	}

	voted, err := c.votes.ExistsForInvite(ctx, inv.ID)
	if err != nil {
		return models.Vote{}, err
	}
	if voted {
		return models.Vote{}, models.ErrInviteAlreadyVoted
	}

	vote := models.Vote{
		ID:          auth.NewID(),
		ElectionID:  inv.ElectionID,
		CandidateID: candidate.ID,
		InviteID:    inv.ID,
		CreatedAt:   now,
	}
	if err := c.commit(ctx, vote, now); err != nil {
		return models.Vote{}, err
	}

	slog.Info("vote cast",
		"election_id", vote.ElectionID,
		"candidate_id", vote.CandidateID,
		"vote_id", vote.ID,
	)

	c.outbox.Notify()
	return vote, nil
}

// commit consumes the invite, inserts the vote and enqueues its ledger write
// as one unit.
func (c *Caster) commit(ctx context.Context, vote models.Vote, now time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := invites.ConsumeTx(ctx, tx, vote.InviteID, now); err != nil {
		// lost the race for this invite
		if errors.Is(err, models.ErrInviteNotPending) {
			return models.ErrInviteAlreadyVoted
		}
		return err
	}

	if err := InsertTx(ctx, tx, vote); err != nil {
		return err
	}

	if err := c.outbox.EnqueueTx(ctx, tx, vote); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vote: %w", err)
	}
	return nil
}
