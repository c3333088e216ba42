// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"

	"github.com/danielhkuo/chainballot/cliparse"
	"github.com/danielhkuo/chainballot/handlers"
	"github.com/danielhkuo/chainballot/middleware"
	"github.com/danielhkuo/chainballot/reconcile"
	"github.com/danielhkuo/chainballot/relay"
)

func NewRouter(db *sql.DB, cfg cliparse.Config, relayer *relay.Relayer, reconciler *reconcile.Reconciler) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	electionHandler := handlers.NewElectionHandler(db, cfg)
	inviteHandler := handlers.NewInviteHandler(db, cfg)
	votingHandler := handlers.NewVotingHandler(db, cfg, relayer)
	ledgerHandler := handlers.NewLedgerHandler(cfg, reconciler)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Elections
	mux.HandleFunc("POST /elections", middleware.WithLogging(electionHandler.CreateElection))
	mux.HandleFunc("GET /elections", middleware.WithLogging(electionHandler.ListElections))
	mux.HandleFunc("GET /elections/active", middleware.WithLogging(electionHandler.ListActive))
	mux.HandleFunc("GET /elections/{id}", middleware.WithLogging(electionHandler.GetElection))
	mux.HandleFunc("PUT /elections/{id}", middleware.WithLogging(electionHandler.UpdateElection))
	mux.HandleFunc("DELETE /elections/{id}", middleware.WithLogging(electionHandler.DeleteElection))

	// Invites (admin, except validate and use)
	mux.HandleFunc("POST /elections/{id}/invites", middleware.WithLogging(inviteHandler.CreateInvite))
	mux.HandleFunc("POST /elections/{id}/invites/bulk", middleware.WithLogging(inviteHandler.CreateBulk))
	mux.HandleFunc("GET /elections/{id}/invites", middleware.WithLogging(inviteHandler.ListInvites))
	mux.HandleFunc("POST /elections/{id}/invites/expire", middleware.WithLogging(inviteHandler.ExpireInvites))
	mux.HandleFunc("POST /elections/invites/{code}/validate", middleware.WithLogging(inviteHandler.ValidateInvite))
	mux.HandleFunc("POST /elections/invites/{code}/use", middleware.WithLogging(inviteHandler.UseInvite))

	// Voting and results (public)
	mux.HandleFunc("POST /elections/vote", middleware.WithLogging(votingHandler.CastVote))
	mux.HandleFunc("GET /elections/{id}/results", middleware.WithLogging(votingHandler.GetResults))

	// External ledger (admin)
	mux.HandleFunc("POST /elections/{id}/reconcile", middleware.WithLogging(ledgerHandler.Reconcile))
	mux.HandleFunc("GET /elections/{id}/verify", middleware.WithLogging(ledgerHandler.Verify))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chainballot API v1"))
	})

	return mux
}
