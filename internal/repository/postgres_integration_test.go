package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"click-backend/internal/models"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool is set only when CLICK_INTEGRATION=1
var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	if os.Getenv("CLICK_INTEGRATION") != "1" {
		os.Exit(m.Run())
	}

	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if _, err := Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool
	code := m.Run()

	pool.Close()
	server.Stop()
	os.Exit(code)
}

func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testPool == nil {
		t.Skip("set CLICK_INTEGRATION=1 to run against a CockroachDB test server")
	}
	ctx := context.Background()
	for _, table := range []string{"reactions", "messages", "reconciliations", "connections", "users"} {
		_, err := testPool.Exec(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return testPool
}

func TestPostgresUserPairing(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	u := models.NewUser("alice", "alice@example.com", "", now)
	require.NoError(t, users.Create(ctx, u))
	assert.ErrorIs(t, users.Create(ctx, models.NewUser("dup", "alice@example.com", "", now)), ErrConflict)

	require.NoError(t, users.AddConnection(ctx, u.ID, "c1"))
	require.NoError(t, users.AddConnection(ctx, u.ID, "c1"))
	require.NoError(t, users.AddConnection(ctx, u.ID, "c2"))

	state := models.PairingState{PairedWith: []string{"c1"}, ConnectionToday: "c1", LastPaired: now}
	require.NoError(t, users.SetPairing(ctx, u.ID, time.Time{}, state))
	assert.ErrorIs(t, users.SetPairing(ctx, u.ID, time.Time{}, state), ErrConflict)
	assert.ErrorIs(t, users.SetPairing(ctx, "missing", time.Time{}, state), ErrNotFound)

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, got.Connections)
	assert.Equal(t, "c1", got.ConnectionToday)
	assert.True(t, got.LastPaired.Equal(now))

	require.NoError(t, users.RemoveConnection(ctx, u.ID, "c1"))
	got, err = users.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, got.Connections)
	assert.Empty(t, got.ConnectionToday)
	assert.Equal(t, []string{"c1"}, got.PairedWith)

	// c1 is no longer linked, so it cannot become connection_today
	assert.ErrorIs(t, users.SetPairing(ctx, u.ID, now, state), ErrConflict)

	token := "device"
	require.NoError(t, users.UpdatePushToken(ctx, u.ID, &token))
	assert.ErrorIs(t, users.TouchLastPolled(ctx, "missing", now), ErrNotFound)
}

func TestPostgresConnections(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	conns := NewConnectionRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	c := models.NewConnection("a", "b", models.Location{Lat: 1.5, Lon: -2}, "cafe", now, 30*24*time.Hour)
	require.NoError(t, conns.Create(ctx, c))
	require.NoError(t, conns.MarkBegun(ctx, c.ID))
	require.NoError(t, conns.SetShouldContinue(ctx, c.ID, 0, true))

	got, err := conns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.HasBegun)
	assert.Equal(t, [2]bool{true, false}, got.ShouldContinue)
	assert.Equal(t, c.Location, got.Location)

	require.NoError(t, conns.Delete(ctx, c.ID))
	assert.ErrorIs(t, conns.Delete(ctx, c.ID), ErrNotFound)
	assert.ErrorIs(t, conns.MarkBegun(ctx, c.ID), ErrNotFound)
}

func TestPostgresMessages(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	messages := NewMessageRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, messages.Create(ctx, newMessage("m1", "c1", "a", "100% sure", now)))
	require.NoError(t, messages.Create(ctx, newMessage("m2", "c1", "b", "100 percent", now.Add(time.Second))))
	require.NoError(t, messages.AddReaction(ctx, models.Reaction{MessageID: "m1", UserID: "b", Type: "like", CreatedAt: now}))
	require.NoError(t, messages.AddReaction(ctx, models.Reaction{MessageID: "m1", UserID: "b", Type: "like", CreatedAt: now}))

	list, err := messages.ListByConnection(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Len(t, list[0].Reactions, 1)

	found, err := messages.Search(ctx, "c1", "0%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "m1", found[0].ID)

	n, err := messages.MarkRead(ctx, "c1", "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, messages.UpdateContent(ctx, "m1", "edited", now))
	got, err := messages.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	require.NotNil(t, got.UpdatedAt)

	deleted, err := messages.DeleteByConnection(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
	assert.ErrorIs(t, messages.RemoveReaction(ctx, "m1", "b", "like"), ErrNotFound)
}

func TestPostgresReconciliations(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	recs := NewReconciliationRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, recs.Flag(ctx, &models.Reconciliation{
		ID: "r1", Operation: "pairing.commit", UserIDs: []string{"a", "b"}, ConnectionID: "c1", CreatedAt: now,
	}))
	open, err := recs.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, []string{"a", "b"}, open[0].UserIDs)

	require.NoError(t, recs.Resolve(ctx, "r1", now))
	assert.ErrorIs(t, recs.Resolve(ctx, "r1", now), ErrNotFound)
}
