// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/cliparse"
	"github.com/danielhkuo/chainballot/elections"
	"github.com/danielhkuo/chainballot/middleware"
	"github.com/danielhkuo/chainballot/models"
)

const defaultPageSize = 20

type ElectionHandler struct {
	store *elections.Store
	cfg   cliparse.Config
}

func NewElectionHandler(db *sql.DB, cfg cliparse.Config) *ElectionHandler {
	return &ElectionHandler{store: elections.NewStore(db), cfg: cfg}
}

// CreateElection handles POST /elections
func (h *ElectionHandler) CreateElection(w http.ResponseWriter, r *http.Request) {
	var req models.CreateElectionRequest
	if err := middleware.ParseAndValidate(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	election, err := h.store.Create(r.Context(), req)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, models.CreateElectionResponse{
		Election: election,
		AdminKey: auth.GenerateAdminKey(election.ID, h.cfg.AdminKeySalt),
	})
}

// ListElections handles GET /elections?limit=&offset=
func (h *ElectionHandler) ListElections(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	list, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, list)
}

// ListActive handles GET /elections/active
func (h *ElectionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListActive(r.Context())
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, list)
}

// GetElection handles GET /elections/{id}
func (h *ElectionHandler) GetElection(w http.ResponseWriter, r *http.Request) {
	election, err := h.store.GetWithCandidates(r.Context(), r.PathValue("id"))
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, election)
}

// UpdateElection handles PUT /elections/{id}
func (h *ElectionHandler) UpdateElection(w http.ResponseWriter, r *http.Request) {
	electionID := r.PathValue("id")
	if !requireAdmin(w, r, electionID, h.cfg.AdminKeySalt) {
		return
	}

	var req models.UpdateElectionRequest
	if err := middleware.ParseAndValidate(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	election, err := h.store.Update(r.Context(), electionID, req)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, election)
}

// DeleteElection handles DELETE /elections/{id}
func (h *ElectionHandler) DeleteElection(w http.ResponseWriter, r *http.Request) {
	electionID := r.PathValue("id")
	if !requireAdmin(w, r, electionID, h.cfg.AdminKeySalt) {
		return
	}

	if err := h.store.Delete(r.Context(), electionID); err != nil {
		middleware.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative %s", key)
	}
	return n, nil
}
