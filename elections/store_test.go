// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package elections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danielhkuo/chainballot/models"
	"github.com/danielhkuo/chainballot/testutil"
)

func TestUpdate(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	e := testutil.CreateTestElection(t, conn, cfg, now.Add(time.Hour), now.Add(24*time.Hour))
	store := NewStore(conn)

	before, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}

	desc := "Moved to the spring"
	updated, err := store.Update(ctx, e.ID, models.UpdateElectionRequest{Description: &desc})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Description != desc || updated.Title != before.Title || !updated.EndDate.Equal(before.EndDate) {
		t.Errorf("only the description should change: %+v", updated)
	}

	// start moved past the current end
	late := now.Add(48 * time.Hour)
	if _, err := store.Update(ctx, e.ID, models.UpdateElectionRequest{StartDate: &late}); !errors.Is(err, models.ErrInvalidElectionWindow) {
		t.Errorf("expected ErrInvalidElectionWindow, got %v", err)
	}

	// used and expired invites do not hold the end date back
	testutil.CreateTestInvite(t, conn, e.ID, models.InviteStatusUsed, now.Add(20*time.Hour))
	testutil.CreateTestInvite(t, conn, e.ID, models.InviteStatusExpired, now.Add(20*time.Hour))
	earlier := now.Add(12 * time.Hour)
	if _, err := store.Update(ctx, e.ID, models.UpdateElectionRequest{EndDate: &earlier}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	testutil.CreateTestInvite(t, conn, e.ID, models.InviteStatusPending, now.Add(10*time.Hour))
	earliest := now.Add(6 * time.Hour)
	if _, err := store.Update(ctx, e.ID, models.UpdateElectionRequest{EndDate: &earliest}); !errors.Is(err, models.ErrInvitesOutlastElection) {
		t.Errorf("expected ErrInvitesOutlastElection, got %v", err)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.EndDate.Equal(earlier.UTC()) {
		t.Errorf("rejected updates must not change the end date, got %v", got.EndDate)
	}

	if _, err := store.Update(ctx, "missing", models.UpdateElectionRequest{Description: &desc}); !errors.Is(err, models.ErrElectionNotFound) {
		t.Errorf("expected ErrElectionNotFound, got %v", err)
	}
}

func TestDelete_RemovesPublicationLeases(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()

	now := time.Now()
	e := testutil.CreateTestElection(t, conn, cfg, now.Add(time.Hour), now.Add(24*time.Hour))
	if _, err := conn.Exec(`INSERT INTO ledger_publish_lock (candidate_id, holder, lease_expires_at) VALUES ($1, NULL, 0)`, e.CandidateIDs[0]); err != nil {
		t.Fatal(err)
	}

	if err := NewStore(conn).Delete(context.Background(), e.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM ledger_publish_lock`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected leases removed with the election, found %d", n)
	}
}
