// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/chainballot/cliparse"
	"github.com/danielhkuo/chainballot/middleware"
	"github.com/danielhkuo/chainballot/reconcile"
)

// LedgerHandler exposes reconciliation and verification against the
// external ledger. Both are admin operations.
type LedgerHandler struct {
	reconciler *reconcile.Reconciler
	cfg        cliparse.Config
}

func NewLedgerHandler(cfg cliparse.Config, reconciler *reconcile.Reconciler) *LedgerHandler {
	return &LedgerHandler{reconciler: reconciler, cfg: cfg}
}

// Reconcile handles POST /elections/{id}/reconcile
// Per-candidate failures are reported in the body with status 200.
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	electionID := r.PathValue("id")
	if !requireAdmin(w, r, electionID, h.cfg.AdminKeySalt) {
		return
	}

	report, err := h.reconciler.Reconcile(r.Context(), electionID)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, report)
}

// Verify handles GET /elections/{id}/verify
func (h *LedgerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	electionID := r.PathValue("id")
	if !requireAdmin(w, r, electionID, h.cfg.AdminKeySalt) {
		return
	}

	report, err := h.reconciler.Verify(r.Context(), electionID)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, report)
}
