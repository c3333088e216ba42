// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/middleware"
)

// requireAdmin checks the X-Admin-Key header against the election's admin
// key and writes a 401 when it does not match.
func requireAdmin(w http.ResponseWriter, r *http.Request, electionID, salt string) bool {
	adminKey := r.Header.Get("X-Admin-Key")
	if adminKey == "" {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "X-Admin-Key header is required")
		return false
	}
	if err := auth.ValidateAdminKey(electionID, adminKey, salt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid admin key")
		return false
	}
	return true
}
