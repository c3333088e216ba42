// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/models"
	"github.com/danielhkuo/chainballot/testutil"
)

func electionRequest(start, end time.Time, names ...string) models.CreateElectionRequest {
	req := models.CreateElectionRequest{
		Title:       "Board Election",
		Description: "Annual board seat",
		StartDate:   start,
		EndDate:     end,
	}
	for _, n := range names {
		req.Candidates = append(req.Candidates, models.CandidateInput{Name: n})
	}
	return req
}

func TestCreateElection(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewElectionHandler(db, cfg)

	now := time.Now()
	start := now.Add(time.Hour)
	end := now.Add(48 * time.Hour)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "valid election",
			body:           electionRequest(start, end, "Alice", "Bob"),
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid JSON",
			body:           "not an election",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing title",
			body: func() models.CreateElectionRequest {
				r := electionRequest(start, end, "Alice", "Bob")
				r.Title = ""
				return r
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "one candidate",
			body:           electionRequest(start, end, "Alice"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "short candidate name",
			body:           electionRequest(start, end, "Alice", "Bo"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "end before start",
			body:           electionRequest(end, start, "Alice", "Bob"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrInvalidElectionWindow.Code,
		},
		{
			name:           "start in the past",
			body:           electionRequest(now.Add(-time.Hour), end, "Alice", "Bob"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrElectionStartInPast.Code,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.MakeRequest("POST", "/elections", tt.body, nil)
			w := httptest.NewRecorder()
			handler.CreateElection(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.expectedStatus == http.StatusCreated {
				var resp models.CreateElectionResponse
				testutil.AssertJSON(t, w, &resp)
				if resp.Election.ID == "" {
					t.Fatal("Expected election id")
				}
				if len(resp.Election.Candidates) != 2 {
					t.Errorf("Expected 2 candidates, got %d", len(resp.Election.Candidates))
				}
				if !resp.Election.IsActive {
					t.Error("Expected election to default to active")
				}
				if err := auth.ValidateAdminKey(resp.Election.ID, resp.AdminKey, cfg.AdminKeySalt); err != nil {
					t.Errorf("Returned admin key does not validate: %v", err)
				}
				return
			}

			if tt.expectedCode != "" {
				var resp models.ErrorResponse
				testutil.AssertJSON(t, w, &resp)
				if resp.Code != tt.expectedCode {
					t.Errorf("Expected code %q, got %q", tt.expectedCode, resp.Code)
				}
			}
		})
	}
}

func TestGetElection(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewElectionHandler(db, cfg)
	e := testutil.CreateOpenElection(t, db, cfg, "Alice", "Bob", "Carol")

	req := httptest.NewRequest("GET", "/elections/"+e.ID, nil)
	req.SetPathValue("id", e.ID)
	w := httptest.NewRecorder()
	handler.GetElection(w, req)

	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.ElectionWithCandidates
	testutil.AssertJSON(t, w, &resp)
	if resp.ID != e.ID || len(resp.Candidates) != 3 {
		t.Errorf("Unexpected election: %+v", resp)
	}

	req = httptest.NewRequest("GET", "/elections/missing", nil)
	req.SetPathValue("id", "missing")
	w = httptest.NewRecorder()
	handler.GetElection(w, req)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestListElections(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewElectionHandler(db, cfg)

	now := time.Now()
	testutil.CreateOpenElection(t, db, cfg)
	testutil.CreateOpenElection(t, db, cfg)
	testutil.CreateTestElection(t, db, cfg, now.Add(time.Hour), now.Add(2*time.Hour))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedCount  int
	}{
		{"all", "/elections", http.StatusOK, 3},
		{"paged", "/elections?limit=2&offset=0", http.StatusOK, 2},
		{"second page", "/elections?limit=2&offset=2", http.StatusOK, 1},
		{"bad limit", "/elections?limit=abc", http.StatusBadRequest, 0},
		{"negative offset", "/elections?offset=-1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ListElections(w, httptest.NewRequest("GET", tt.path, nil))

			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var list []models.Election
			testutil.AssertJSON(t, w, &list)
			if len(list) != tt.expectedCount {
				t.Errorf("Expected %d elections, got %d", tt.expectedCount, len(list))
			}
		})
	}

	t.Run("active", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListActive(w, httptest.NewRequest("GET", "/elections/active", nil))
		testutil.AssertStatus(t, w, http.StatusOK)

		var list []models.Election
		testutil.AssertJSON(t, w, &list)
		if len(list) != 2 {
			t.Errorf("Expected 2 active elections, got %d", len(list))
		}
	})
}

func TestDeleteElection(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewElectionHandler(db, cfg)

	now := time.Now()
	future := testutil.CreateTestElection(t, db, cfg, now.Add(time.Hour), now.Add(2*time.Hour))
	testutil.CreatePendingInvite(t, db, future.ID)
	started := testutil.CreateOpenElection(t, db, cfg)

	tests := []struct {
		name           string
		electionID     string
		adminKey       string
		expectedStatus int
	}{
		{"missing admin key", future.ID, "", http.StatusUnauthorized},
		{"wrong admin key", future.ID, started.AdminKey, http.StatusUnauthorized},
		{"already started", started.ID, started.AdminKey, http.StatusBadRequest},
		{"not started", future.ID, future.AdminKey, http.StatusNoContent},
		{"already deleted", future.ID, future.AdminKey, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.adminKey != "" {
				headers = testutil.AdminHeaders(tt.adminKey)
			}
			req := testutil.MakeRequest("DELETE", "/elections/"+tt.electionID, nil, headers)
			req.SetPathValue("id", tt.electionID)
			w := httptest.NewRecorder()
			handler.DeleteElection(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}

	if n := testutil.CountRows(t, db, "election_invite", future.ID); n != 0 {
		t.Errorf("Expected invites to be deleted with the election, found %d", n)
	}
}

func TestUpdateElection(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewElectionHandler(db, cfg)
	inviteHandler := NewInviteHandler(db, cfg)

	now := time.Now().Truncate(time.Second)
	e := testutil.CreateTestElection(t, db, cfg, now.Add(-time.Hour), now.Add(24*time.Hour))
	code := testutil.CreateTestInvite(t, db, e.ID, models.InviteStatusPending, now.Add(12*time.Hour))

	str := func(s string) *string { return &s }
	at := func(d time.Duration) *time.Time { tm := now.Add(d); return &tm }
	inactive := false

	tests := []struct {
		name           string
		electionID     string
		adminKey       string
		body           interface{}
		expectedStatus int
		expectedCode   string
	}{
		{"missing admin key", e.ID, "", models.UpdateElectionRequest{Title: str("Renamed")}, http.StatusUnauthorized, ""},
		{"unknown election", "missing", auth.GenerateAdminKey("missing", cfg.AdminKeySalt), models.UpdateElectionRequest{Title: str("Renamed")}, http.StatusNotFound, models.ErrElectionNotFound.Code},
		{"invalid JSON", e.ID, e.AdminKey, "not an update", http.StatusBadRequest, ""},
		{"short title", e.ID, e.AdminKey, models.UpdateElectionRequest{Title: str("ab")}, http.StatusBadRequest, ""},
		{"end before start", e.ID, e.AdminKey, models.UpdateElectionRequest{EndDate: at(-2 * time.Hour)}, http.StatusBadRequest, models.ErrInvalidElectionWindow.Code},
		{"end before pending invite expiry", e.ID, e.AdminKey, models.UpdateElectionRequest{EndDate: at(6 * time.Hour)}, http.StatusBadRequest, models.ErrInvitesOutlastElection.Code},
		{"extend window", e.ID, e.AdminKey, models.UpdateElectionRequest{Title: str("Renamed"), EndDate: at(48 * time.Hour)}, http.StatusOK, ""},
		{"deactivate", e.ID, e.AdminKey, models.UpdateElectionRequest{IsActive: &inactive}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.adminKey != "" {
				headers = testutil.AdminHeaders(tt.adminKey)
			}
			req := testutil.MakeRequest("PUT", "/elections/"+tt.electionID, tt.body, headers)
			req.SetPathValue("id", tt.electionID)
			w := httptest.NewRecorder()
			handler.UpdateElection(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.expectedCode != "" {
				var resp models.ErrorResponse
				testutil.AssertJSON(t, w, &resp)
				if resp.Code != tt.expectedCode {
					t.Errorf("Expected code %q, got %q", tt.expectedCode, resp.Code)
				}
			}
		})
	}

	req := httptest.NewRequest("GET", "/elections/"+e.ID, nil)
	req.SetPathValue("id", e.ID)
	w := httptest.NewRecorder()
	handler.GetElection(w, req)
	var got models.ElectionWithCandidates
	testutil.AssertJSON(t, w, &got)
	if got.Title != "Renamed" || got.IsActive {
		t.Errorf("Expected renamed inactive election, got %+v", got.Election)
	}
	if !got.EndDate.Equal(now.Add(48 * time.Hour).UTC()) {
		t.Errorf("Expected end date moved to %v, got %v", now.Add(48*time.Hour).UTC(), got.EndDate)
	}

	// the deactivated election no longer accepts its invites
	req = httptest.NewRequest("POST", "/elections/invites/"+code+"/use", nil)
	req.SetPathValue("code", code)
	w = httptest.NewRecorder()
	inviteHandler.UseInvite(w, req)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	var resp models.ErrorResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Code != models.ErrElectionInactive.Code {
		t.Errorf("Expected code %q, got %q", models.ErrElectionInactive.Code, resp.Code)
	}
}
