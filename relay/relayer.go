// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package relay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/ballots"
	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/models"
)

const (
	DefaultInterval    = 15 * time.Second
	DefaultMaxAttempts = 8
	DefaultBaseBackoff = 5 * time.Second
	MaxBackoff         = 10 * time.Minute
)

type Options struct {
	// Interval between outbox scans when no vote arrives
	Interval time.Duration
	// MaxAttempts before a pending write is marked failed
	MaxAttempts int
	BaseBackoff time.Duration
	// Lease bounds how long one publication holds a candidate against other
	// relayers, and how long a publication waits for it
	Lease  time.Duration
	Logger *slog.Logger
}

// Relayer moves committed votes to the external ledger.
//
// Every publication computes the gap between the local tally and the ledger's
// tally for one candidate and registers only that gap. The ledger is additive,
// so publishing the gap rather than a fixed count keeps retries and repeated
// reconciliation from counting a vote twice. Publications for a candidate are
// serialized through a lease row in storage, so two of them never observe the
// same gap even when they run in different processes.
type Relayer struct {
	db      *sql.DB
	backend Backend
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	notify chan struct{}
}

func NewRelayer(conn *sql.DB, backend Backend, opts Options) *Relayer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Relayer{
		db:      conn,
		backend: backend,
		opts:    opts,
		logger:  logger.With("component", "relay"),
		now:     time.Now,
		notify:  make(chan struct{}, 1),
	}
}

// WithClock overrides the time source. Used by tests.
func (r *Relayer) WithClock(now func() time.Time) *Relayer {
	r.now = now
	return r
}

// EnqueueTx records the pending ledger write for a vote inside the vote's
// transaction.
func (r *Relayer) EnqueueTx(ctx context.Context, q db.Queryer, vote models.Vote) error {
	return insertWrite(ctx, q, newVoteWrite(vote, r.now().UTC()))
}

// Notify wakes the worker without blocking the caller.
func (r *Relayer) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Publication is the outcome of one candidate publication.
type Publication struct {
	CandidateID string
	LocalVotes  int64
	ChainVotes  int64
	// Registered is the count sent to the ledger; zero when already in sync
	Registered int64
	TxHash     string
	// Settled is the number of open ledger writes this publication closed
	Settled int
}

// Publish brings the ledger's count for one candidate up to the local count.
// kind labels the audit row written for a reconciliation; vote publications
// settle the pending rows they cover instead.
func (r *Relayer) Publish(ctx context.Context, electionID, candidateID, kind string) (Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	release, err := r.acquireLease(ctx, candidateID)
	if err != nil {
		return Publication{CandidateID: candidateID}, err
	}
	defer release()

	return r.publishLocked(ctx, electionID, candidateID, kind)
}

func (r *Relayer) publishLocked(ctx context.Context, electionID, candidateID, kind string) (Publication, error) {
	pub := Publication{CandidateID: candidateID}

	// Rows are read before the count: a vote committed after this point is
	// left pending for the next publication even if the count includes it.
	open, err := openWrites(ctx, r.db, candidateID)
	if err != nil {
		return pub, err
	}

	pub.LocalVotes, err = ballots.CandidateCount(ctx, r.db, candidateID)
	if err != nil {
		return pub, err
	}

	tallies, err := r.backend.AllCandidates(ctx)
	if err != nil {
		return pub, WriteFailed("read ledger tallies", err)
	}
	pub.ChainVotes = chainCount(tallies, candidateID)

	delta := pub.LocalVotes - pub.ChainVotes
	now := r.now().UTC()

	if delta <= 0 {
		if delta < 0 {
			r.logger.Warn("ledger ahead of local tally",
				"event", "relay_drift",
				"candidate_id", candidateID,
				"local_votes", pub.LocalVotes,
				"chain_votes", pub.ChainVotes,
			)
		}
		if err := settleWrites(ctx, r.db, open, models.WriteStatusSuperseded, nil, now); err != nil {
			return pub, err
		}
		pub.Settled = len(open)
		return pub, nil
	}

	txHash, err := r.backend.RegisterVotes(ctx, candidateID, delta)
	if err != nil {
		if kind == models.WriteKindReconcile {
			r.recordReconcile(ctx, electionID, candidateID, delta, models.WriteStatusFailed, nil, err, now)
		}
		return pub, err
	}
	pub.Registered = delta
	pub.TxHash = txHash

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return pub, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := settleWrites(ctx, tx, open, models.WriteStatusSent, &txHash, now); err != nil {
		return pub, err
	}
	if kind == models.WriteKindReconcile {
		if err := insertWrite(ctx, tx, reconcileWrite(electionID, candidateID, delta, models.WriteStatusSent, &txHash, nil, now)); err != nil {
			return pub, err
		}
	}
	if err := tx.Commit(); err != nil {
		return pub, fmt.Errorf("commit ledger writes: %w", err)
	}

	pub.Settled = len(open)
	r.logger.Info("votes registered on ledger",
		"event", "relay_registered",
		"kind", kind,
		"election_id", electionID,
		"candidate_id", candidateID,
		"count", delta,
		"tx_hash", txHash,
		"settled_writes", pub.Settled,
	)
	return pub, nil
}

func reconcileWrite(electionID, candidateID string, delta int64, status string, txHash *string, cause error, now time.Time) models.LedgerWrite {
	w := models.LedgerWrite{
		ID:            auth.NewID(),
		Kind:          models.WriteKindReconcile,
		ElectionID:    electionID,
		CandidateID:   candidateID,
		Delta:         delta,
		Status:        status,
		TxHash:        txHash,
		Attempts:      1,
		LastAttemptAt: &now,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if cause != nil {
		msg := cause.Error()
		w.LastError = &msg
	}
	return w
}

// recordReconcile keeps an audit row for a failed reconciliation write. The
// failure itself is already being returned, so a storage error here is only
// logged.
func (r *Relayer) recordReconcile(ctx context.Context, electionID, candidateID string, delta int64, status string, txHash *string, cause error, now time.Time) {
	w := reconcileWrite(electionID, candidateID, delta, status, txHash, cause, now)
	if err := insertWrite(ctx, r.db, w); err != nil {
		r.logger.Warn("failed to record reconciliation write", "candidate_id", candidateID, "error", err)
	}
}

// ChainTallies returns the ledger's per-candidate totals keyed by candidate.
func (r *Relayer) ChainTallies(ctx context.Context) (map[string]int64, error) {
	tallies, err := r.backend.AllCandidates(ctx)
	if err != nil {
		return nil, WriteFailed("read ledger tallies", err)
	}
	counts := make(map[string]int64, len(tallies))
	for _, t := range tallies {
		counts[t.CandidateID] = t.Votes
	}
	return counts, nil
}

// Writes lists the ledger writes of an election, oldest first.
func (r *Relayer) Writes(ctx context.Context, electionID string) ([]models.LedgerWrite, error) {
	return queryWrites(ctx, r.db, `election_id = $1`, electionID)
}
