// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package relay

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/chainballot/ballots"
	"github.com/danielhkuo/chainballot/models"
	"github.com/danielhkuo/chainballot/testutil"
)

type fixture struct {
	conn     *sql.DB
	backend  *MemoryBackend
	relayer  *Relayer
	caster   *ballots.Caster
	election testutil.TestElection
	clock    time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	conn := testutil.SetupTestDB(t)
	f := &fixture{
		conn:     conn,
		backend:  NewMemoryBackend(),
		election: testutil.CreateOpenElection(t, conn, testutil.GetTestConfig(), "Alice", "Bob"),
		clock:    time.Now().UTC(),
	}
	f.relayer = NewRelayer(conn, f.backend, opts).WithClock(func() time.Time { return f.clock })
	f.caster = ballots.NewCaster(conn, f.relayer)
	return f
}

func (f *fixture) vote(t *testing.T, candidateID string) models.Vote {
	t.Helper()
	v, err := f.caster.CastVote(context.Background(), candidateID, testutil.CreatePendingInvite(t, f.conn, f.election.ID))
	require.NoError(t, err)
	return v
}

func (f *fixture) writes(t *testing.T) []models.LedgerWrite {
	t.Helper()
	w, err := f.relayer.Writes(context.Background(), f.election.ID)
	require.NoError(t, err)
	return w
}

func TestRelay_PublishesCommittedVote(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.election.CandidateIDs[0]
	v := f.vote(t, alice)

	writes := f.writes(t)
	require.Len(t, writes, 1)
	require.Equal(t, models.WriteStatusPending, writes[0].Status)
	require.Equal(t, v.ID, *writes[0].VoteID)

	n, err := f.relayer.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.EqualValues(t, 1, f.backend.Votes(alice))

	writes = f.writes(t)
	require.Equal(t, models.WriteStatusSent, writes[0].Status)
	require.NotNil(t, writes[0].TxHash)

	stored, err := ballots.NewStore(f.conn).Get(context.Background(), v.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TxHash)
	require.Equal(t, *writes[0].TxHash, *stored.TxHash)
}

func TestRelay_OnePublicationCoversBacklog(t *testing.T) {
	f := newFixture(t, Options{})
	alice, bob := f.election.CandidateIDs[0], f.election.CandidateIDs[1]
	f.vote(t, alice)
	f.vote(t, alice)
	f.vote(t, bob)

	n, err := f.relayer.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.EqualValues(t, 2, f.backend.Votes(alice))
	require.EqualValues(t, 1, f.backend.Votes(bob))
	require.Equal(t, 2, f.backend.Calls())

	for _, w := range f.writes(t) {
		require.Equal(t, models.WriteStatusSent, w.Status)
	}
}

func TestRelay_PublishIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.election.CandidateIDs[0]
	f.vote(t, alice)
	f.vote(t, alice)

	ctx := context.Background()
	first, err := f.relayer.Publish(ctx, f.election.ID, alice, models.WriteKindReconcile)
	require.NoError(t, err)
	require.EqualValues(t, 2, first.Registered)
	require.Equal(t, 2, first.Settled)

	second, err := f.relayer.Publish(ctx, f.election.ID, alice, models.WriteKindReconcile)
	require.NoError(t, err)
	require.Zero(t, second.Registered)
	require.EqualValues(t, 2, second.ChainVotes)

	require.EqualValues(t, 2, f.backend.Votes(alice))
	require.Equal(t, 1, f.backend.Calls())
}

func TestRelay_FailureBacksOffThenGivesUp(t *testing.T) {
	f := newFixture(t, Options{MaxAttempts: 3, BaseBackoff: time.Second})
	alice := f.election.CandidateIDs[0]
	ctx := context.Background()

	f.backend.FailNext(-1)
	f.vote(t, alice)

	n, err := f.relayer.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	w := f.writes(t)[0]
	require.Equal(t, models.WriteStatusPending, w.Status)
	require.Equal(t, 1, w.Attempts)
	require.NotNil(t, w.LastError)
	require.True(t, w.NextAttemptAt.After(f.clock))

	// not due yet
	calls := f.backend.Calls()
	_, err = f.relayer.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, calls, f.backend.Calls())

	for i := 0; i < 2; i++ {
		f.clock = f.clock.Add(MaxBackoff)
		_, err = f.relayer.RunOnce(ctx)
		require.NoError(t, err)
	}

	w = f.writes(t)[0]
	require.Equal(t, models.WriteStatusFailed, w.Status)
	require.Equal(t, 3, w.Attempts)

	// failed rows are no longer retried by the worker
	f.clock = f.clock.Add(MaxBackoff)
	calls = f.backend.Calls()
	_, err = f.relayer.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, calls, f.backend.Calls())

	// reconciliation settles them
	f.backend.FailNext(0)
	pub, err := f.relayer.Publish(ctx, f.election.ID, alice, models.WriteKindReconcile)
	require.NoError(t, err)
	require.EqualValues(t, 1, pub.Registered)
	require.EqualValues(t, 1, f.backend.Votes(alice))

	var kinds []string
	for _, w := range f.writes(t) {
		require.Equal(t, models.WriteStatusSent, w.Status)
		kinds = append(kinds, w.Kind)
	}
	require.ElementsMatch(t, []string{models.WriteKindVote, models.WriteKindReconcile}, kinds)
}

func TestRelay_FailedReconcileLeavesNoLedgerState(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.election.CandidateIDs[0]
	f.vote(t, alice)

	f.backend.FailNext(1)
	_, err := f.relayer.Publish(context.Background(), f.election.ID, alice, models.WriteKindReconcile)
	require.Error(t, err)
	require.True(t, errors.Is(err, models.ErrRelayWriteFailed))
	require.Equal(t, models.KindExternalWriteFailed, models.KindOf(err))
	require.Zero(t, f.backend.Votes(alice))

	var failed int
	for _, w := range f.writes(t) {
		if w.Kind == models.WriteKindReconcile {
			require.Equal(t, models.WriteStatusFailed, w.Status)
			failed++
		}
	}
	require.Equal(t, 1, failed)
}

// gatedBackend holds every RegisterVotes call until release is closed.
type gatedBackend struct {
	*MemoryBackend
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) RegisterVotes(ctx context.Context, candidateID string, count int64) (string, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.MemoryBackend.RegisterVotes(ctx, candidateID, count)
}

func TestRelay_PublicationsSerializeAcrossRelayers(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.election.CandidateIDs[0]
	f.vote(t, alice)

	gate := &gatedBackend{
		MemoryBackend: f.backend,
		entered:       make(chan struct{}, 2),
		release:       make(chan struct{}),
	}
	clock := func() time.Time { return f.clock }
	// the API worker and a votectl run share the database and the ledger
	server := NewRelayer(f.conn, gate, Options{}).WithClock(clock)
	cli := NewRelayer(f.conn, gate, Options{}).WithClock(clock)

	ctx := context.Background()
	errs := make(chan error, 2)
	for _, r := range []*Relayer{server, cli} {
		go func(r *Relayer) {
			_, err := r.Publish(ctx, f.election.ID, alice, models.WriteKindReconcile)
			errs <- err
		}(r)
	}

	<-gate.entered
	select {
	case <-gate.entered:
		close(gate.release)
		t.Fatal("second relayer reached the ledger while the first was publishing")
	case <-time.After(200 * time.Millisecond):
	}
	close(gate.release)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	require.EqualValues(t, 1, f.backend.Votes(alice))
	require.Equal(t, 1, f.backend.Calls())
}

func TestRelay_ExpiredLeaseIsTakenOver(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.election.CandidateIDs[0]
	f.vote(t, alice)

	_, err := f.conn.Exec(`INSERT INTO ledger_publish_lock (candidate_id, holder, lease_expires_at) VALUES ($1, $2, $3)`,
		alice, "crashed-relayer", f.clock.Add(-time.Minute).UnixNano())
	require.NoError(t, err)

	pub, err := f.relayer.Publish(context.Background(), f.election.ID, alice, models.WriteKindVote)
	require.NoError(t, err)
	require.EqualValues(t, 1, pub.Registered)

	var holder sql.NullString
	require.NoError(t, f.conn.QueryRow(`SELECT holder FROM ledger_publish_lock WHERE candidate_id = $1`, alice).Scan(&holder))
	require.False(t, holder.Valid)
}

func TestRelay_HeldLeaseFailsRetryably(t *testing.T) {
	f := newFixture(t, Options{Lease: 50 * time.Millisecond})
	alice := f.election.CandidateIDs[0]
	f.vote(t, alice)

	_, err := f.conn.Exec(`INSERT INTO ledger_publish_lock (candidate_id, holder, lease_expires_at) VALUES ($1, $2, $3)`,
		alice, "other-relayer", f.clock.Add(time.Hour).UnixNano())
	require.NoError(t, err)

	_, err = f.relayer.Publish(context.Background(), f.election.ID, alice, models.WriteKindVote)
	require.Error(t, err)
	require.True(t, errors.Is(err, models.ErrRelayWriteFailed))
	require.Zero(t, f.backend.Calls())
}

func TestRelay_LedgerAheadIsNotCorrected(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.election.CandidateIDs[0]
	ctx := context.Background()

	_, err := f.backend.RegisterVotes(ctx, alice, 5)
	require.NoError(t, err)
	f.vote(t, alice)

	pub, err := f.relayer.Publish(ctx, f.election.ID, alice, models.WriteKindVote)
	require.NoError(t, err)
	require.Zero(t, pub.Registered)
	require.EqualValues(t, 5, f.backend.Votes(alice))
	require.Equal(t, models.WriteStatusSuperseded, f.writes(t)[0].Status)
}

func TestRelay_RunWakesOnNotify(t *testing.T) {
	f := newFixture(t, Options{Interval: time.Hour})
	alice := f.election.CandidateIDs[0]

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.relayer.Run(ctx) }()

	f.vote(t, alice)

	require.Eventually(t, func() bool {
		return f.backend.Votes(alice) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay worker did not stop")
	}
}

func TestRelay_Backoff(t *testing.T) {
	r := NewRelayer(nil, NewMemoryBackend(), Options{BaseBackoff: time.Second})

	require.Equal(t, time.Second, r.backoff(1))
	require.Equal(t, 2*time.Second, r.backoff(2))
	require.Equal(t, 8*time.Second, r.backoff(4))
	require.Equal(t, MaxBackoff, r.backoff(30))
}

func TestRelay_NotifyNeverBlocks(t *testing.T) {
	r := NewRelayer(nil, NewMemoryBackend(), Options{})
	for i := 0; i < 100; i++ {
		r.Notify()
	}
}
