// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package relay

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/chainballot/models"
)

// Run drains the outbox until ctx is cancelled. It wakes on every interval
// tick and on Notify.
func (r *Relayer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.logger.Info("relay worker started",
		"event", "relay_worker_started",
		"interval", r.opts.Interval,
		"max_attempts", r.opts.MaxAttempts,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay worker stopped", "event", "relay_worker_stopped")
			return nil
		case <-ticker.C:
		case <-r.notify:
		}

		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("relay cycle failed", "event", "relay_cycle_failed", "error", err)
		}
	}
}

// RunOnce publishes every candidate that has a pending write due now and
// returns how many candidates were published. A failing candidate gets its
// rows rescheduled with backoff and does not stop the others.
func (r *Relayer) RunOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()

	pending, err := queryWrites(ctx, r.db, `status = $1`, models.WriteStatusPending)
	if err != nil {
		return 0, err
	}

	// one publication per candidate covers all of its rows
	type target struct{ electionID, candidateID string }
	var due []target
	seen := map[string]bool{}
	for _, w := range pending {
		if seen[w.CandidateID] || w.NextAttemptAt.After(now) {
			continue
		}
		seen[w.CandidateID] = true
		due = append(due, target{w.ElectionID, w.CandidateID})
	}

	if len(due) == 0 {
		r.logger.Debug("relay found no due writes", "event", "relay_noop", "pending", len(pending))
		return 0, nil
	}

	published := 0
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		if _, err := r.Publish(ctx, t.electionID, t.candidateID, models.WriteKindVote); err != nil {
			r.logger.Warn("ledger publication failed",
				"event", "relay_publish_failed",
				"election_id", t.electionID,
				"candidate_id", t.candidateID,
				"error", err,
			)
			if rerr := r.reschedule(ctx, t.candidateID, err); rerr != nil {
				return published, rerr
			}
			continue
		}
		published++
	}

	r.logger.Info("relay cycle completed",
		"event", "relay_cycle_completed",
		"due", len(due),
		"published", published,
	)
	return published, nil
}

// reschedule records a failed attempt on every pending row of a candidate.
// Rows that reach the attempt limit are marked failed and left for
// reconciliation.
func (r *Relayer) reschedule(ctx context.Context, candidateID string, cause error) error {
	rows, err := queryWrites(ctx, r.db, `candidate_id = $1 AND status = $2`, candidateID, models.WriteStatusPending)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	msg := cause.Error()
	for _, w := range rows {
		w.Attempts++
		w.LastError = &msg
		w.LastAttemptAt = &now

		if w.Attempts >= r.opts.MaxAttempts {
			w.Status = models.WriteStatusFailed
			r.logger.Warn("ledger write gave up, awaiting reconciliation",
				"event", "relay_write_failed",
				"write_id", w.ID,
				"candidate_id", candidateID,
				"attempts", w.Attempts,
			)
		} else {
			w.NextAttemptAt = now.Add(r.backoff(w.Attempts))
			r.logger.Info("ledger write rescheduled",
				"event", "relay_write_rescheduled",
				"write_id", w.ID,
				"attempts", w.Attempts,
				"next_attempt", humanize.RelTime(w.NextAttemptAt, now, "ago", "from now"),
			)
		}

		if err := recordAttempt(ctx, r.db, w); err != nil {
			return err
		}
	}
	return nil
}

// backoff is BaseBackoff * 2^(attempts-1), capped at MaxBackoff.
func (r *Relayer) backoff(attempts int) time.Duration {
	d := r.opts.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return d
}
