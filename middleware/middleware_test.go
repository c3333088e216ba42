// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielhkuo/chainballot/models"
)

func TestWithLogging(t *testing.T) {
	// Create a simple handler that returns OK
	handlerCalled := false
	testHandler := func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	}

	// Wrap with logging middleware
	wrappedHandler := WithLogging(testHandler)

	// Create test request and recorder
	req := httptest.NewRequest("GET", "/test-path", nil)
	w := httptest.NewRecorder()

	// Execute
	wrappedHandler(w, req)

	// Verify handler was called
	if !handlerCalled {
		t.Error("Expected handler to be called")
	}

	// Verify response was written correctly
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "success" {
		t.Errorf("Expected body 'success', got '%s'", w.Body.String())
	}
}

func TestWithLogging_PreservesResponse(t *testing.T) {
	// Test that logging doesn't interfere with various response codes
	testCases := []struct {
		name       string
		statusCode int
		body       string
	}{
		{"OK", http.StatusOK, "ok"},
		{"Created", http.StatusCreated, `{"id":"123"}`},
		{"BadRequest", http.StatusBadRequest, `{"error":"bad request"}`},
		{"NotFound", http.StatusNotFound, "not found"},
		{"InternalError", http.StatusInternalServerError, "error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := WithLogging(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				w.Write([]byte(tc.body))
			})

			req := httptest.NewRequest("POST", "/api/test", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, w.Code)
			}
			if w.Body.String() != tc.body {
				t.Errorf("Expected body '%s', got '%s'", tc.body, w.Body.String())
			}
		})
	}
}

func TestJSONResponse(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
		data       interface{}
		expected   string
	}{
		{
			name:       "simple struct",
			statusCode: http.StatusOK,
			data:       map[string]string{"message": "hello"},
			expected:   `{"message":"hello"}`,
		},
		{
			name:       "created response",
			statusCode: http.StatusCreated,
			data:       models.ValidateInviteResponse{Valid: true},
			expected:   `{"valid":true}`,
		},
		{
			name:       "error response",
			statusCode: http.StatusBadRequest,
			data:       models.ErrorResponse{Error: "Bad Request", Message: "missing field"},
			expected:   `{"error":"Bad Request","message":"missing field"}`,
		},
		{
			name:       "array data",
			statusCode: http.StatusOK,
			data:       []string{"a", "b", "c"},
			expected:   `["a","b","c"]`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			JSONResponse(w, tc.statusCode, tc.data)

			// Check status code
			if w.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, w.Code)
			}

			// Check Content-Type header
			contentType := w.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got '%s'", contentType)
			}

			// Check body (trim newline added by Encode)
			body := strings.TrimSpace(w.Body.String())
			if body != tc.expected {
				t.Errorf("Expected body '%s', got '%s'", tc.expected, body)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	testCases := []struct {
		name           string
		statusCode     int
		message        string
		expectedError  string
	}{
		{
			name:          "bad request",
			statusCode:    http.StatusBadRequest,
			message:       "title is required",
			expectedError: "Bad Request",
		},
		{
			name:          "unauthorized",
			statusCode:    http.StatusUnauthorized,
			message:       "invalid admin key",
			expectedError: "Unauthorized",
		},
		{
			name:          "not found",
			statusCode:    http.StatusNotFound,
			message:       "election not found",
			expectedError: "Not Found",
		},
		{
			name:          "conflict",
			statusCode:    http.StatusConflict,
			message:       "invite already used",
			expectedError: "Conflict",
		},
		{
			name:          "internal error",
			statusCode:    http.StatusInternalServerError,
			message:       "database error",
			expectedError: "Internal Server Error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			ErrorResponse(w, tc.statusCode, tc.message)

			// Check status code
			if w.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, w.Code)
			}

			// Check Content-Type
			if w.Header().Get("Content-Type") != "application/json" {
				t.Error("Expected Content-Type 'application/json'")
			}

			// Decode and verify error response
			var resp models.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}

			if resp.Error != tc.expectedError {
				t.Errorf("Expected error '%s', got '%s'", tc.expectedError, resp.Error)
			}
			if resp.Message != tc.message {
				t.Errorf("Expected message '%s', got '%s'", tc.message, resp.Message)
			}
		})
	}
}

func TestParseJSONBody(t *testing.T) {
	t.Run("valid JSON", func(t *testing.T) {
		body := `{"candidate_id":"c1","invite_code":"ABCDEFGHIJ"}`
		req := httptest.NewRequest("POST", "/", strings.NewReader(body))

		var parsed models.CastVoteRequest
		err := ParseJSONBody(req, &parsed)

		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if parsed.CandidateID != "c1" {
			t.Errorf("Expected candidate_id 'c1', got '%s'", parsed.CandidateID)
		}
		if parsed.InviteCode != "ABCDEFGHIJ" {
			t.Errorf("Expected invite_code 'ABCDEFGHIJ', got '%s'", parsed.InviteCode)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{invalid json}`))

		var parsed models.CastVoteRequest
		if err := ParseJSONBody(req, &parsed); err == nil {
			t.Error("Expected error for invalid JSON")
		}
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(""))

		var parsed models.CastVoteRequest
		if err := ParseJSONBody(req, &parsed); err == nil {
			t.Error("Expected error for empty body")
		}
	})

	t.Run("extra fields ignored", func(t *testing.T) {
		body := `{"candidate_id":"c1","invite_code":"X","unknown_field":"ignored"}`
		req := httptest.NewRequest("POST", "/", strings.NewReader(body))

		var parsed models.CastVoteRequest
		if err := ParseJSONBody(req, &parsed); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if parsed.CandidateID != "c1" {
			t.Errorf("Expected candidate_id 'c1', got '%s'", parsed.CandidateID)
		}
	})

	t.Run("body is consumed after parsing", func(t *testing.T) {
		body := `{"candidate_id":"c1","invite_code":"X"}`
		req := httptest.NewRequest("POST", "/", io.NopCloser(bytes.NewReader([]byte(body))))

		var parsed models.CastVoteRequest
		_ = ParseJSONBody(req, &parsed)

		remaining, _ := io.ReadAll(req.Body)
		if len(remaining) > 0 {
			t.Error("Expected body to be consumed")
		}
	})
}

func TestParseAndValidate(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"quantity":5}`, ""},
		{"missing quantity", `{}`, "quantity is required"},
		{"too many", `{"quantity":101}`, "quantity must be at most 100"},
		{"negative", `{"quantity":-1}`, "quantity must be greater than 0"},
		{"bad json", `{"quantity":`, "Invalid JSON"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tc.body))

			var parsed models.BulkInviteRequest
			err := ParseAndValidate(req, &parsed)

			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tc.wantErr {
				t.Errorf("Expected error %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseAndValidate_NestedCandidates(t *testing.T) {
	body := `{"title":"Board election","start_date":"2030-01-01T00:00:00Z","end_date":"2030-01-02T00:00:00Z",
		"candidates":[{"name":"Alice"},{"name":"Bo"}]}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))

	var parsed models.CreateElectionRequest
	err := ParseAndValidate(req, &parsed)
	if err == nil {
		t.Fatal("Expected error for a candidate name that is too short")
	}
	if !strings.Contains(err.Error(), "name must be at least 3") {
		t.Errorf("Unexpected message: %v", err)
	}
}

func TestDomainError(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		statusCode int
		code       string
	}{
		{"not found", models.ErrElectionNotFound, http.StatusNotFound, "election_not_found"},
		{"invalid state", models.ErrElectionEnded, http.StatusBadRequest, "election_ended"},
		{"conflict", models.ErrInviteAlreadyVoted, http.StatusConflict, "invite_already_voted"},
		{"external", fmt.Errorf("%w: timeout", models.ErrRelayWriteFailed), http.StatusBadGateway, "relay_write_failed"},
		{"wrapped", fmt.Errorf("lookup: %w", models.ErrInviteNotFound), http.StatusNotFound, "invite_not_found"},
		{"plain error", errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			DomainError(w, tc.err)

			if w.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, w.Code)
			}

			var resp models.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if resp.Code != tc.code {
				t.Errorf("Expected code %q, got %q", tc.code, resp.Code)
			}
			if tc.code == "" && strings.Contains(resp.Message, "disk") {
				t.Error("Internal error details must not leak")
			}
		})
	}
}

func TestCORS(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("handled"))
	})

	corsHandler := CORS(nextHandler)

	t.Run("preflight request", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/elections/vote", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "X-Admin-Key")
		w := httptest.NewRecorder()

		corsHandler.ServeHTTP(w, req)

		if w.Code != http.StatusOK && w.Code != http.StatusNoContent {
			t.Errorf("Expected 200 or 204, got %d", w.Code)
		}
		if w.Body.String() != "" {
			t.Errorf("Expected empty body for preflight, got '%s'", w.Body.String())
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
			t.Error("Expected Access-Control-Allow-Origin to match request origin")
		}
		if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("Expected Access-Control-Allow-Credentials to be 'true'")
		}
		allowed := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
		if !strings.Contains(allowed, "x-admin-key") {
			t.Errorf("Expected X-Admin-Key to be allowed, got %q", allowed)
		}
	})

	t.Run("regular request with origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/elections", nil)
		req.Header.Set("Origin", "https://example.com")
		w := httptest.NewRecorder()

		corsHandler.ServeHTTP(w, req)

		if w.Body.String() != "handled" {
			t.Error("Expected next handler to be called")
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
			t.Error("Expected Access-Control-Allow-Origin to reflect request origin")
		}
	})

	t.Run("request without origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/elections", nil)
		w := httptest.NewRecorder()

		corsHandler.ServeHTTP(w, req)

		if w.Body.String() != "handled" {
			t.Error("Expected next handler to be called")
		}
	})
}

func TestGetClientIP(t *testing.T) {
	testCases := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.2:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.5:5555", "192.0.2.5"},
		{"remote without port", nil, "192.0.2.5", "192.0.2.5"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := GetClientIP(req); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestWithLogging_RecordsStatus(t *testing.T) {
	handler := WithLogging(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(w, http.StatusTeapot, "short and stout")
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status %d, got %d", http.StatusTeapot, w.Code)
	}
}
