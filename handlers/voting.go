// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"net/http"

	"github.com/danielhkuo/chainballot/ballots"
	"github.com/danielhkuo/chainballot/cliparse"
	"github.com/danielhkuo/chainballot/middleware"
	"github.com/danielhkuo/chainballot/models"
)

type VotingHandler struct {
	caster *ballots.Caster
	votes  *ballots.Store
	cfg    cliparse.Config
}

// NewVotingHandler wires vote casting to outbox, which receives the ledger
// write of every committed vote.
func NewVotingHandler(db *sql.DB, cfg cliparse.Config, outbox ballots.Outbox) *VotingHandler {
	return &VotingHandler{
		caster: ballots.NewCaster(db, outbox),
		votes:  ballots.NewStore(db),
		cfg:    cfg,
	}
}

// CastVote handles POST /elections/vote
// The response never waits on the external ledger.
func (h *VotingHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req models.CastVoteRequest
	if err := middleware.ParseAndValidate(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	vote, err := h.caster.CastVote(r.Context(), req.CandidateID, req.InviteCode)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, vote)
}

// GetResults handles GET /elections/{id}/results
func (h *VotingHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.votes.Results(r.Context(), r.PathValue("id"))
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, results)
}
