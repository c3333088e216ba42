// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielhkuo/chainballot/auth"
)

const (
	// DefaultLease outlasts a Polygon registration including its receipt wait.
	DefaultLease      = 5 * time.Minute
	leasePollInterval = 25 * time.Millisecond
)

var errLeaseHeld = errors.New("publication lease held by another relayer")

// acquireLease claims the storage lease for one candidate. Every process that
// publishes to the ledger goes through this row, so two relayers sharing a
// database never read the same ledger tally for the same candidate at once.
// It waits at most opts.Lease for the current holder to finish.
func (r *Relayer) acquireLease(ctx context.Context, candidateID string) (func(), error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger_publish_lock (candidate_id, holder, lease_expires_at)
		VALUES ($1, NULL, 0)
		ON CONFLICT (candidate_id) DO NOTHING
	`, candidateID); err != nil {
		return nil, fmt.Errorf("create publication lease: %w", err)
	}

	holder := auth.NewID()
	deadline := time.NewTimer(r.opts.Lease)
	defer deadline.Stop()

	for {
		ok, err := r.claimLease(ctx, candidateID, holder)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { r.releaseLease(ctx, candidateID, holder) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, WriteFailed("wait for publication lease", ctx.Err())
		case <-deadline.C:
			return nil, WriteFailed("wait for publication lease", errLeaseHeld)
		case <-time.After(leasePollInterval):
		}
	}
}

// claimLease takes the lease when it is free or its holder's lease ran out.
func (r *Relayer) claimLease(ctx context.Context, candidateID, holder string) (bool, error) {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE ledger_publish_lock
		SET holder = $1, lease_expires_at = $2
		WHERE candidate_id = $3 AND (holder IS NULL OR lease_expires_at < $4)
	`, holder, now.Add(r.opts.Lease).UnixNano(), candidateID, now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("claim publication lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim publication lease: %w", err)
	}
	return n == 1, nil
}

// releaseLease frees the lease only if this holder still owns it. A
// cancelled ctx does not skip the release.
func (r *Relayer) releaseLease(ctx context.Context, candidateID, holder string) {
	_, err := r.db.ExecContext(context.WithoutCancel(ctx), `
		UPDATE ledger_publish_lock
		SET holder = NULL, lease_expires_at = 0
		WHERE candidate_id = $1 AND holder = $2
	`, candidateID, holder)
	if err != nil {
		r.logger.Warn("failed to release publication lease", "candidate_id", candidateID, "error", err)
	}
}
