// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package reconcile converges the external ledger toward the local vote
// tallies and reports where the two disagree.
package reconcile

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/chainballot/ballots"
	"github.com/danielhkuo/chainballot/elections"
	"github.com/danielhkuo/chainballot/models"
	"github.com/danielhkuo/chainballot/relay"
)

const pageSize = 100

type Reconciler struct {
	elections *elections.Store
	votes     *ballots.Store
	relayer   *relay.Relayer
	logger    *slog.Logger
}

func New(conn *sql.DB, relayer *relay.Relayer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		elections: elections.NewStore(conn),
		votes:     ballots.NewStore(conn),
		relayer:   relayer,
		logger:    logger.With("component", "reconcile"),
	}
}

// Reconcile publishes every candidate of an election from the local tally.
// It is safe to repeat: a candidate already in sync registers nothing. A
// failing candidate is recorded in the report and the rest still run.
func (r *Reconciler) Reconcile(ctx context.Context, electionID string) (models.ReconcileReport, error) {
	results, err := r.votes.Results(ctx, electionID)
	if err != nil {
		return models.ReconcileReport{}, err
	}

	start := time.Now()
	report := models.ReconcileReport{
		ElectionID: electionID,
		Candidates: make([]models.CandidateReconciliation, 0, len(results.CandidateResults)),
	}

	for _, cr := range results.CandidateResults {
		entry := models.CandidateReconciliation{
			CandidateID:   cr.CandidateID,
			CandidateName: cr.CandidateName,
			LocalVotes:    cr.VoteCount,
		}

		pub, err := r.relayer.Publish(ctx, electionID, cr.CandidateID, models.WriteKindReconcile)
		if err != nil {
			r.logger.Warn("candidate reconciliation failed",
				"event", "reconcile_candidate_failed",
				"election_id", electionID,
				"candidate_id", cr.CandidateID,
				"error", err,
			)
			entry.Error = err.Error()
			report.Failed++
			report.Candidates = append(report.Candidates, entry)
			continue
		}

		entry.LocalVotes = pub.LocalVotes
		entry.ChainVotes = pub.ChainVotes + pub.Registered
		entry.Registered = pub.Registered
		entry.TxHash = pub.TxHash
		report.Registered += pub.Registered
		report.Candidates = append(report.Candidates, entry)
	}

	r.logger.Info("election reconciled",
		"event", "reconcile_completed",
		"election_id", electionID,
		"candidates", len(report.Candidates),
		"registered", humanize.Comma(report.Registered),
		"failed", report.Failed,
		"took", time.Since(start).String(),
	)
	return report, nil
}

// ReconcileAll reconciles every election. Per-election failures are logged
// and skipped.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]models.ReconcileReport, error) {
	var reports []models.ReconcileReport

	for offset := 0; ; offset += pageSize {
		page, err := r.elections.List(ctx, pageSize, offset)
		if err != nil {
			return reports, err
		}

		for _, e := range page {
			if err := ctx.Err(); err != nil {
				return reports, err
			}
			report, err := r.Reconcile(ctx, e.ID)
			if err != nil {
				r.logger.Error("election reconciliation failed",
					"event", "reconcile_election_failed",
					"election_id", e.ID,
					"error", err,
				)
				continue
			}
			reports = append(reports, report)
		}

		if len(page) < pageSize {
			break
		}
	}

	var registered int64
	for _, rep := range reports {
		registered += rep.Registered
	}
	r.logger.Info("reconciliation sweep completed",
		"event", "reconcile_sweep_completed",
		"elections", len(reports),
		"registered", humanize.Comma(registered),
	)
	return reports, nil
}

// Verify compares local tallies with the external ledger without writing.
func (r *Reconciler) Verify(ctx context.Context, electionID string) (models.VerificationReport, error) {
	results, err := r.votes.Results(ctx, electionID)
	if err != nil {
		return models.VerificationReport{}, err
	}

	chain, err := r.relayer.ChainTallies(ctx)
	if err != nil {
		return models.VerificationReport{}, err
	}

	report := models.VerificationReport{
		ElectionID: electionID,
		InSync:     true,
		Candidates: make([]models.CandidateVerification, 0, len(results.CandidateResults)),
	}
	for _, cr := range results.CandidateResults {
		v := models.CandidateVerification{
			CandidateID:   cr.CandidateID,
			CandidateName: cr.CandidateName,
			LocalVotes:    cr.VoteCount,
			ChainVotes:    chain[cr.CandidateID],
		}
		v.InSync = v.LocalVotes == v.ChainVotes
		if !v.InSync {
			report.InSync = false
		}
		report.Candidates = append(report.Candidates, v)
	}
	return report, nil
}
