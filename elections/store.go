// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package elections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/models"
)

// Store owns election and candidate rows.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

const electionColumns = `id, title, description, start_date, end_date, is_active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElection(row rowScanner) (models.Election, error) {
	var e models.Election
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.StartDate, &e.EndDate, &e.IsActive, &e.CreatedAt)
	return e, err
}

// Create inserts an election and its candidates in one transaction.
func (s *Store) Create(ctx context.Context, req models.CreateElectionRequest) (models.ElectionWithCandidates, error) {
	now := s.now().UTC()
	start := req.StartDate.UTC()
	end := req.EndDate.UTC()

	if !start.Before(end) {
		return models.ElectionWithCandidates{}, models.ErrInvalidElectionWindow
	}
	if start.Before(now) {
		return models.ElectionWithCandidates{}, models.ErrElectionStartInPast
	}
	if len(req.Candidates) < models.MinElectionChoice {
		return models.ElectionWithCandidates{}, models.ErrTooFewCandidates
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	election := models.ElectionWithCandidates{
		Election: models.Election{
			ID:          auth.NewID(),
			Title:       strings.TrimSpace(req.Title),
			Description: req.Description,
			StartDate:   start,
			EndDate:     end,
			IsActive:    active,
			CreatedAt:   now,
		},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ElectionWithCandidates{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO election (id, title, description, start_date, end_date, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, election.ID, election.Title, election.Description, election.StartDate, election.EndDate, election.IsActive, election.CreatedAt)
	if err != nil {
		return models.ElectionWithCandidates{}, fmt.Errorf("insert election: %w", err)
	}

	for _, in := range req.Candidates {
		c := models.Candidate{
			ID:          auth.NewID(),
			ElectionID:  election.ID,
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			CreatedAt:   now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidate (id, election_id, name, description, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, c.ID, c.ElectionID, c.Name, c.Description, c.CreatedAt)
		if err != nil {
			return models.ElectionWithCandidates{}, fmt.Errorf("insert candidate: %w", err)
		}
		election.Candidates = append(election.Candidates, c)
	}

	if err := tx.Commit(); err != nil {
		return models.ElectionWithCandidates{}, fmt.Errorf("commit election: %w", err)
	}

	slog.Info("election created", "election_id", election.ID, "candidates", len(election.Candidates))
	return election, nil
}

// Get returns one election or models.ErrElectionNotFound.
func (s *Store) Get(ctx context.Context, id string) (models.Election, error) {
	return GetElection(ctx, s.db, id)
}

// GetElection reads an election through q, which may be a transaction.
func GetElection(ctx context.Context, q db.Queryer, id string) (models.Election, error) {
	e, err := scanElection(q.QueryRowContext(ctx, `
		SELECT `+electionColumns+`
		FROM election
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Election{}, models.ErrElectionNotFound
	}
	if err != nil {
		return models.Election{}, fmt.Errorf("query election: %w", err)
	}
	return e, nil
}

// GetWithCandidates returns an election with its candidates ordered by name.
func (s *Store) GetWithCandidates(ctx context.Context, id string) (models.ElectionWithCandidates, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return models.ElectionWithCandidates{}, err
	}
	candidates, err := s.Candidates(ctx, id)
	if err != nil {
		return models.ElectionWithCandidates{}, err
	}
	return models.ElectionWithCandidates{Election: e, Candidates: candidates}, nil
}

// List returns elections ordered by start date, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]models.Election, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+electionColumns+`
		FROM election
		ORDER BY start_date DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query elections: %w", err)
	}
	defer rows.Close()

	elections := []models.Election{}
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan election: %w", err)
		}
		elections = append(elections, e)
	}
	return elections, rows.Err()
}

// ListActive returns elections that are flagged active and currently inside
// their voting window.
func (s *Store) ListActive(ctx context.Context) ([]models.Election, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+electionColumns+`
		FROM election
		WHERE is_active = $1
		ORDER BY end_date
	`, true)
	if err != nil {
		return nil, fmt.Errorf("query active elections: %w", err)
	}
	defer rows.Close()

	now := s.now()
	elections := []models.Election{}
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan election: %w", err)
		}
		if e.Open(now) {
			elections = append(elections, e)
		}
	}
	return elections, rows.Err()
}

// Candidates lists the candidates of one election.
func (s *Store) Candidates(ctx context.Context, electionID string) ([]models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, election_id, name, description, created_at
		FROM candidate
		WHERE election_id = $1
		ORDER BY name, id
	`, electionID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	candidates := []models.Candidate{}
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.ID, &c.ElectionID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// GetCandidate returns one candidate or models.ErrCandidateNotFound.
func (s *Store) GetCandidate(ctx context.Context, id string) (models.Candidate, error) {
	var c models.Candidate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, election_id, name, description, created_at
		FROM candidate
		WHERE id = $1
	`, id).Scan(&c.ID, &c.ElectionID, &c.Name, &c.Description, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Candidate{}, models.ErrCandidateNotFound
	}
	if err != nil {
		return models.Candidate{}, fmt.Errorf("query candidate: %w", err)
	}
	return c, nil
}

// Update applies the fields present in req. The resulting window must still
// satisfy start < end, and no pending invite may expire after the new end.
func (s *Store) Update(ctx context.Context, id string, req models.UpdateElectionRequest) (models.Election, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Election{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := GetElection(ctx, tx, id)
	if err != nil {
		return models.Election{}, err
	}

	if req.Title != nil {
		e.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.StartDate != nil {
		e.StartDate = req.StartDate.UTC()
	}
	if req.EndDate != nil {
		e.EndDate = req.EndDate.UTC()
	}
	if req.IsActive != nil {
		e.IsActive = *req.IsActive
	}

	if !e.StartDate.Before(e.EndDate) {
		return models.Election{}, models.ErrInvalidElectionWindow
	}
	if req.EndDate != nil {
		if err := checkPendingExpiry(ctx, tx, id, e.EndDate); err != nil {
			return models.Election{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE election
		SET title = $1, description = $2, start_date = $3, end_date = $4, is_active = $5
		WHERE id = $6
	`, e.Title, e.Description, e.StartDate, e.EndDate, e.IsActive, id)
	if err != nil {
		return models.Election{}, fmt.Errorf("update election: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Election{}, fmt.Errorf("commit election: %w", err)
	}

	slog.Info("election updated", "election_id", id, "is_active", e.IsActive, "end_date", e.EndDate)
	return e, nil
}

// checkPendingExpiry fails when a pending invite outlives end. Expiries are
// compared in Go; SQLite stores timestamps as text.
func checkPendingExpiry(ctx context.Context, q db.Queryer, electionID string, end time.Time) error {
	rows, err := q.QueryContext(ctx, `
		SELECT expires_at
		FROM election_invite
		WHERE election_id = $1 AND status = $2
	`, electionID, models.InviteStatusPending)
	if err != nil {
		return fmt.Errorf("query pending invites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var expiresAt time.Time
		if err := rows.Scan(&expiresAt); err != nil {
			return fmt.Errorf("scan invite expiry: %w", err)
		}
		if expiresAt.After(end) {
			return models.ErrInvitesOutlastElection
		}
	}
	return rows.Err()
}

// Delete removes an election that has not started yet, together with its
// dependents. Deletes run child-first in foreign-key order inside one
// transaction.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := GetElection(ctx, tx, id)
	if err != nil {
		return err
	}
	if !s.now().Before(e.StartDate) {
		return models.ErrElectionStarted
	}

	for _, stmt := range []string{
		`DELETE FROM ledger_write WHERE election_id = $1`,
		`DELETE FROM ledger_publish_lock WHERE candidate_id IN (SELECT id FROM candidate WHERE election_id = $1)`,
		`DELETE FROM vote WHERE election_id = $1`,
		`DELETE FROM election_invite WHERE election_id = $1`,
		`DELETE FROM candidate WHERE election_id = $1`,
		`DELETE FROM election WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("cascade delete election: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	slog.Info("election deleted", "election_id", id)
	return nil
}
