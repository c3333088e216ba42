// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/chainballot/cliparse"
	"github.com/danielhkuo/chainballot/invites"
	"github.com/danielhkuo/chainballot/middleware"
	"github.com/danielhkuo/chainballot/models"
)

type InviteHandler struct {
	ledger *invites.Ledger
	cfg    cliparse.Config
}

func NewInviteHandler(db *sql.DB, cfg cliparse.Config) *InviteHandler {
	return &InviteHandler{ledger: invites.NewLedger(db), cfg: cfg}
}

// CreateInvite handles POST /elections/{id}/invites
// The body is optional; without expires_at the default expiry applies.
func (h *InviteHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	electionID := r.PathValue("id")
	if !requireAdmin(w, r, electionID, h.cfg.AdminKeySalt) {
		return
	}

	var req models.CreateInviteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	inv, err := h.ledger.Create(r.Context(), electionID, req.ExpiresAt)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, inv)
}

// CreateBulk handles POST /elections/{id}/invites/bulk
func (h *InviteHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	electionID := r.PathValue("id")
	if !requireAdmin(w, r, electionID, h.cfg.AdminKeySalt) {
		return
	}

	var req models.BulkInviteRequest
	if err := middleware.ParseAndValidate(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.ledger.CreateBulk(r.Context(), electionID, req.Quantity, req.ExpiresAt)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, created)
}

// ListInvites handles GET /elections/{id}/invites
func (h *InviteHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	electionID := r.PathValue("id")
	if !requireAdmin(w, r, electionID, h.cfg.AdminKeySalt) {
		return
	}

	list, err := h.ledger.ListByElection(r.Context(), electionID)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, list)
}

// ValidateInvite handles POST /elections/invites/{code}/validate
// Unknown, used, expired and out-of-window codes all answer valid=false.
func (h *InviteHandler) ValidateInvite(w http.ResponseWriter, r *http.Request) {
	valid, err := h.ledger.Validate(r.Context(), r.PathValue("code"))
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.ValidateInviteResponse{Valid: valid})
}

// UseInvite handles POST /elections/invites/{code}/use
func (h *InviteHandler) UseInvite(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	// election state is checked before the transition, as in vote casting
	if _, _, err := h.ledger.Check(r.Context(), code); err != nil &&
		!errors.Is(err, models.ErrInviteExpired) && !errors.Is(err, models.ErrInviteNotPending) {
		middleware.DomainError(w, err)
		return
	}

	inv, err := h.ledger.Consume(r.Context(), code)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	slog.Info("invite used", "election_id", inv.ElectionID, "invite_id", inv.ID)
	middleware.JSONResponse(w, http.StatusOK, inv)
}

// ExpireInvites handles POST /elections/{id}/invites/expire
func (h *InviteHandler) ExpireInvites(w http.ResponseWriter, r *http.Request) {
	electionID := r.PathValue("id")
	if !requireAdmin(w, r, electionID, h.cfg.AdminKeySalt) {
		return
	}

	n, err := h.ledger.ExpireStale(r.Context(), electionID)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.ExpireInvitesResponse{Expired: n})
}
