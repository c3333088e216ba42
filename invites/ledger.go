// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package invites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/chainballot/auth"
	"github.com/danielhkuo/chainballot/db"
	"github.com/danielhkuo/chainballot/elections"
	"github.com/danielhkuo/chainballot/models"
)

const (
	// attempts at drawing a code that is unused in the table and the batch
	maxCodeDraws = 10
	// attempts at the whole insert when the unique index rejects a code
	maxCreateAttempts = 5
)

var errCodeSpaceExhausted = errors.New("could not draw an unused invite code")

// Ledger owns invite records and their pending -> used / expired transitions.
type Ledger struct {
	db      *sql.DB
	now     func() time.Time
	codeLen int
}

func NewLedger(conn *sql.DB) *Ledger {
	return &Ledger{db: conn, now: time.Now, codeLen: models.InviteCodeLength}
}

// WithClock overrides the time source. Used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

const inviteColumns = `id, election_id, code, status, expires_at, used_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvite(row rowScanner) (models.Invite, error) {
	var inv models.Invite
	err := row.Scan(&inv.ID, &inv.ElectionID, &inv.Code, &inv.Status, &inv.ExpiresAt, &inv.UsedAt, &inv.CreatedAt)
	return inv, err
}

// Create issues one pending invite for an election.
func (l *Ledger) Create(ctx context.Context, electionID string, expiresAt *time.Time) (models.Invite, error) {
	created, err := l.CreateBulk(ctx, electionID, 1, expiresAt)
	if err != nil {
		return models.Invite{}, err
	}
	return created[0], nil
}

// CreateBulk issues quantity pending invites sharing one expiry. Either every
// invite is created or none is.
func (l *Ledger) CreateBulk(ctx context.Context, electionID string, quantity int, expiresAt *time.Time) ([]models.Invite, error) {
	if quantity < 1 || quantity > models.MaxBulkInvites {
		return nil, models.ErrInvalidQuantity
	}

	election, err := elections.GetElection(ctx, l.db, electionID)
	if err != nil {
		return nil, err
	}
	if !election.IsActive {
		return nil, models.ErrElectionInactive
	}

	now := l.now().UTC()
	expiry, err := resolveExpiry(election, expiresAt, now)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		created, err := l.insertBatch(ctx, electionID, quantity, expiry, now)
		if err == nil {
			slog.Info("invites created", "election_id", electionID, "count", len(created), "expires_at", expiry)
			return created, nil
		}
		if !db.IsUniqueViolation(err) || attempt >= maxCreateAttempts {
			return nil, err
		}
		slog.Warn("invite code collided at insert, retrying batch", "election_id", electionID, "attempt", attempt)
	}
}

// resolveExpiry applies the default expiry and enforces now < expiry <= end.
func resolveExpiry(election models.Election, requested *time.Time, now time.Time) (time.Time, error) {
	if requested == nil {
		expiry := now.Add(models.DefaultInviteTTL)
		if expiry.After(election.EndDate) {
			expiry = election.EndDate
		}
		if !expiry.After(now) {
			return time.Time{}, models.ErrInvalidExpiry
		}
		return expiry.UTC(), nil
	}

	expiry := requested.UTC()
	if !expiry.After(now) || expiry.After(election.EndDate) {
		return time.Time{}, models.ErrInvalidExpiry
	}
	return expiry, nil
}

func (l *Ledger) insertBatch(ctx context.Context, electionID string, quantity int, expiry, now time.Time) ([]models.Invite, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	batch := make(map[string]bool, quantity)
	created := make([]models.Invite, 0, quantity)
	for i := 0; i < quantity; i++ {
		code, err := l.drawCode(ctx, tx, batch)
		if err != nil {
			return nil, err
		}
		batch[code] = true

		inv := models.Invite{
			ID:         auth.NewID(),
			ElectionID: electionID,
			Code:       code,
			Status:     models.InviteStatusPending,
			ExpiresAt:  expiry,
			CreatedAt:  now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO election_invite (id, election_id, code, status, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, inv.ID, inv.ElectionID, inv.Code, inv.Status, inv.ExpiresAt, inv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert invite: %w", err)
		}
		created = append(created, inv)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit invites: %w", err)
	}
	return created, nil
}

// drawCode redraws until the code is neither stored nor already in the batch.
func (l *Ledger) drawCode(ctx context.Context, q db.Queryer, batch map[string]bool) (string, error) {
	for i := 0; i < maxCodeDraws; i++ {
		code, err := auth.GenerateInviteCode(l.codeLen)
		if err != nil {
			return "", err
		}
		if batch[code] {
			continue
		}

		var exists bool
		err = q.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM election_invite WHERE code = $1)
		`, code).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("check invite code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", errCodeSpaceExhausted
}

// GetByCode returns the invite or models.ErrInviteNotFound.
func (l *Ledger) GetByCode(ctx context.Context, code string) (models.Invite, error) {
	return getByCode(ctx, l.db, code)
}

func getByCode(ctx context.Context, q db.Queryer, code string) (models.Invite, error) {
	inv, err := scanInvite(q.QueryRowContext(ctx, `
		SELECT `+inviteColumns+`
		FROM election_invite
		WHERE code = $1
	`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invite{}, models.ErrInviteNotFound
	}
	if err != nil {
		return models.Invite{}, fmt.Errorf("query invite: %w", err)
	}
	return inv, nil
}

// ListByElection returns every invite of an election, oldest first.
func (l *Ledger) ListByElection(ctx context.Context, electionID string) ([]models.Invite, error) {
	if _, err := elections.GetElection(ctx, l.db, electionID); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT `+inviteColumns+`
		FROM election_invite
		WHERE election_id = $1
		ORDER BY created_at, id
	`, electionID)
	if err != nil {
		return nil, fmt.Errorf("query invites: %w", err)
	}
	defer rows.Close()

	list := []models.Invite{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// Eligible is the predicate shared by validation and vote casting. It
// returns nil when the invite may be consumed at now, otherwise the reason.
// A used invite reports as not pending before any election state, so a
// retry after a successful vote keeps surfacing as already voted even once
// the election has closed.
func Eligible(inv models.Invite, election models.Election, now time.Time) error {
	switch {
	case inv.Status == models.InviteStatusUsed:
		return models.ErrInviteNotPending
	case !election.IsActive:
		return models.ErrElectionInactive
	case now.Before(election.StartDate):
		return models.ErrElectionNotStarted
	case !now.Before(election.EndDate):
		return models.ErrElectionEnded
	case inv.Status == models.InviteStatusExpired || !now.Before(inv.ExpiresAt):
		return models.ErrInviteExpired
	case inv.Status != models.InviteStatusPending:
		return models.ErrInviteNotPending
	}
	return nil
}

// Check loads an invite and its election and applies Eligible. It never
// writes.
func (l *Ledger) Check(ctx context.Context, code string) (models.Invite, models.Election, error) {
	inv, err := l.GetByCode(ctx, code)
	if err != nil {
		return models.Invite{}, models.Election{}, err
	}
	election, err := elections.GetElection(ctx, l.db, inv.ElectionID)
	if err != nil {
		return inv, models.Election{}, err
	}
	return inv, election, Eligible(inv, election, l.now())
}

// Validate reports whether code could be consumed right now. Unknown codes
// are simply invalid. Validation has no side effects.
func (l *Ledger) Validate(ctx context.Context, code string) (bool, error) {
	_, _, err := l.Check(ctx, code)
	if err == nil {
		return true, nil
	}
	if models.KindOf(err) != "" {
		return false, nil
	}
	return false, err
}

// Consume moves a pending invite to used. It is the standalone form of the
// transition; vote casting uses ConsumeTx inside its own transaction.
func (l *Ledger) Consume(ctx context.Context, code string) (models.Invite, error) {
	inv, err := l.GetByCode(ctx, code)
	if err != nil {
		return models.Invite{}, err
	}

	now := l.now().UTC()
	if inv.Status == models.InviteStatusPending && !now.Before(inv.ExpiresAt) {
		l.expireLazily(ctx, inv)
		return models.Invite{}, models.ErrInviteExpired
	}
	if inv.Status == models.InviteStatusExpired {
		return models.Invite{}, models.ErrInviteExpired
	}

	if err := ConsumeTx(ctx, l.db, inv.ID, now); err != nil {
		return models.Invite{}, err
	}

	inv.Status = models.InviteStatusUsed
	inv.UsedAt = &now
	slog.Info("invite consumed", "invite_id", inv.ID, "election_id", inv.ElectionID)
	return inv, nil
}

// ConsumeTx is the compare-and-transition: it writes used only if the row is
// still pending at write time. Of two concurrent callers on the same invite
// exactly one sees an affected row; the other gets models.ErrInviteNotPending.
func ConsumeTx(ctx context.Context, q db.Queryer, inviteID string, now time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE election_invite
		SET status = $1, used_at = $2
		WHERE id = $3 AND status = $4
	`, models.InviteStatusUsed, now.UTC(), inviteID, models.InviteStatusPending)
	if err != nil {
		return fmt.Errorf("consume invite: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume invite rows affected: %w", err)
	}
	if n != 1 {
		return models.ErrInviteNotPending
	}
	return nil
}

// expire moves a pending invite to expired; a no-op for any other status.
func expire(ctx context.Context, q db.Queryer, inviteID string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE election_invite
		SET status = $1
		WHERE id = $2 AND status = $3
	`, models.InviteStatusExpired, inviteID, models.InviteStatusPending)
	if err != nil {
		return false, fmt.Errorf("expire invite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire invite rows affected: %w", err)
	}
	return n == 1, nil
}

// expireLazily records an expiry discovered while consuming. Failure only
// delays the transition to the next sweep.
func (l *Ledger) expireLazily(ctx context.Context, inv models.Invite) {
	if _, err := expire(ctx, l.db, inv.ID); err != nil {
		slog.Warn("lazy invite expiry failed", "invite_id", inv.ID, "error", err)
	}
}

// ExpireLazily is exported for vote casting, which discovers expiry outside
// the ledger.
func (l *Ledger) ExpireLazily(ctx context.Context, inv models.Invite) {
	l.expireLazily(ctx, inv)
}

// ExpireStale moves every pending invite whose expiry has passed to expired.
// An empty electionID sweeps all elections. Returns the number of invites
// transitioned.
func (l *Ledger) ExpireStale(ctx context.Context, electionID string) (int64, error) {
	query := `SELECT id, expires_at FROM election_invite WHERE status = $1`
	args := []any{models.InviteStatusPending}
	if electionID != "" {
		query += ` AND election_id = $2`
		args = append(args, electionID)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query pending invites: %w", err)
	}

	now := l.now()
	var stale []string
	for rows.Next() {
		var (
			id        string
			expiresAt time.Time
		)
		if err := rows.Scan(&id, &expiresAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan pending invite: %w", err)
		}
		if !now.Before(expiresAt) {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	var expired int64
	for _, id := range stale {
		ok, err := expire(ctx, l.db, id)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		slog.Info("invites expired", "election_id", electionID, "count", expired)
	}
	return expired, nil
}
