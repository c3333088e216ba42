// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/cliparse"
	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/models"
)

// SetupTestDB creates a fresh SQLite database file with the full schema.
// The file lives in the test's temp dir and is removed with it.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chainballot_test.db")
	conn, err := db.Open(db.TypeSQLite, "file:"+path)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:              3318,
		DatabaseURL:       "file::memory:",
		DatabaseType:      db.TypeSQLite,
		AdminKeySalt:      "test-admin-salt",
		LedgerBackend:     "memory",
		RelayInterval:     time.Second,
		RelayMaxAttempts:  3,
		ReconcileSchedule: "",
		ExpireSchedule:    "",
	}
}

// TestElection is a fixture election with its admin key and candidate IDs in
// the order their names were given.
type TestElection struct {
	ID           string
	AdminKey     string
	CandidateIDs []string
}

// CreateTestElection inserts an active election spanning [start, end) with one
// candidate per name. It writes rows directly so past windows are allowed.
func CreateTestElection(t *testing.T, conn *sql.DB, cfg cliparse.Config, start, end time.Time, names ...string) TestElection {
	t.Helper()

	if len(names) == 0 {
		names = []string{"Alice", "Bob"}
	}

	e := TestElection{ID: auth.NewID()}
	e.AdminKey = auth.GenerateAdminKey(e.ID, cfg.AdminKeySalt)

	_, err := conn.Exec(`
		INSERT INTO election (id, title, description, start_date, end_date, is_active, created_at)
		VALUES ($1, 'Test Election', 'An election under test', $2, $3, $4, $5)
	`, e.ID, start.UTC(), end.UTC(), true, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test election: %v", err)
	}

	for _, name := range names {
		e.CandidateIDs = append(e.CandidateIDs, AddTestCandidate(t, conn, e.ID, name))
	}

	return e
}

// CreateOpenElection creates an election that started an hour ago and ends in
// a day.
func CreateOpenElection(t *testing.T, conn *sql.DB, cfg cliparse.Config, names ...string) TestElection {
	t.Helper()
	now := time.Now()
	return CreateTestElection(t, conn, cfg, now.Add(-time.Hour), now.Add(24*time.Hour), names...)
}

// AddTestCandidate adds a candidate to an election and returns its ID
func AddTestCandidate(t *testing.T, conn *sql.DB, electionID, name string) string {
	t.Helper()

	id := auth.NewID()
	_, err := conn.Exec(`
		INSERT INTO candidate (id, election_id, name, description, created_at)
		VALUES ($1, $2, $3, '', $4)
	`, id, electionID, name, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test candidate: %v", err)
	}

	return id
}

// CreateTestInvite inserts an invite with the given status and expiry and
// returns its code.
func CreateTestInvite(t *testing.T, conn *sql.DB, electionID, status string, expiresAt time.Time) string {
	t.Helper()

	code, err := auth.GenerateInviteCode(models.InviteCodeLength)
	if err != nil {
		t.Fatalf("Failed to generate invite code: %v", err)
	}

	var usedAt *time.Time
	if status == models.InviteStatusUsed {
		now := time.Now().UTC()
		usedAt = &now
	}

	_, err = conn.Exec(`
		INSERT INTO election_invite (id, election_id, code, status, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, auth.NewID(), electionID, code, status, expiresAt.UTC(), db.Nullable(usedAt), time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test invite: %v", err)
	}

	return code
}

// CreatePendingInvite inserts a pending invite that expires in an hour.
func CreatePendingInvite(t *testing.T, conn *sql.DB, electionID string) string {
	t.Helper()
	return CreateTestInvite(t, conn, electionID, models.InviteStatusPending, time.Now().Add(time.Hour))
}

// InviteStatus returns the stored status of an invite code.
func InviteStatus(t *testing.T, conn *sql.DB, code string) string {
	t.Helper()

	var status string
	if err := conn.QueryRow(`SELECT status FROM election_invite WHERE code = $1`, code).Scan(&status); err != nil {
		t.Fatalf("Failed to read invite status: %v", err)
	}
	return status
}

// CountRows returns the number of rows in table matching an optional
// election_id filter.
func CountRows(t *testing.T, conn *sql.DB, table, electionID string) int {
	t.Helper()

	var n int
	var err error
	if electionID == "" {
		err = conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
	} else {
		err = conn.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE election_id = $1`, electionID).Scan(&n)
	}
	if err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AdminHeaders returns the header map that authorizes admin routes.
func AdminHeaders(adminKey string) map[string]string {
	return map[string]string{"X-Admin-Key": adminKey}
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
