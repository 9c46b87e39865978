package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"click-backend/internal/models"
	"click-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRemoveUsers struct {
	UserStore
	failFor string
}

func (f *failingRemoveUsers) RemoveConnection(ctx context.Context, userID, connectionID string) error {
	if userID == f.failFor {
		return errors.New("write failed")
	}
	return f.UserStore.RemoveConnection(ctx, userID, connectionID)
}

func TestEvaluateAndPrune_LiveConnectionHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	conn := f.connect(t, a, b)

	f.clock.Set(conn.Expiry)
	expired, err := f.lifecycle.EvaluateAndPrune(ctx, conn.ID)
	require.NoError(t, err)
	assert.False(t, expired, "expiry is strict: now must be after expiry")

	_, err = f.store.Connections().GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{conn.ID}, f.reload(t, a.ID).Connections)
}

func TestEvaluateAndPrune_ExpiredCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	conn := f.connect(t, a, b)
	keep := f.connect(t, a, c)

	require.NoError(t, f.store.Messages().Create(ctx, &models.Message{
		ID: "m1", ConnectionID: conn.ID, UserID: a.ID, Content: "hi", Status: models.StatusSent, CreatedAt: t0,
	}))

	f.clock.Set(conn.Expiry.Add(time.Nanosecond))
	expired, err := f.lifecycle.EvaluateAndPrune(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	assert.Equal(t, []string{keep.ID}, f.reload(t, a.ID).Connections)
	assert.Empty(t, f.reload(t, b.ID).Connections)
	_, err = f.store.Connections().GetByID(ctx, conn.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.store.Messages().GetByID(ctx, "m1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.lifecycle.EvaluateAndPrune(ctx, conn.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvaluateAndPrune_OneSideContinuingStillExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	conn := f.connect(t, a, b)
	require.NoError(t, f.store.Connections().SetShouldContinue(ctx, conn.ID, 0, true))

	f.clock.Set(conn.Expiry.Add(time.Minute))
	expired, err := f.lifecycle.EvaluateAndPrune(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestEvaluateAndPrune_PartialFailureIsRetriedOnNextRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	conn := f.connect(t, a, b)
	f.clock.Set(conn.Expiry.Add(time.Minute))

	f.lifecycle.users = &failingRemoveUsers{UserStore: f.store.Users(), failFor: b.ID}
	expired, err := f.lifecycle.EvaluateAndPrune(ctx, conn.ID)
	assert.True(t, expired)
	require.Error(t, err)

	// the row survives so the next read can finish the job
	_, err = f.store.Connections().GetByID(ctx, conn.ID)
	require.NoError(t, err)

	f.lifecycle.users = f.store.Users()
	expired, err = f.lifecycle.EvaluateAndPrune(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Empty(t, f.reload(t, a.ID).Connections)
	assert.Empty(t, f.reload(t, b.ID).Connections)
}

func TestLive_ExpiredConnection(t *testing.T) {
	f := newFixture(t)
	a, b := f.user(t, "alice"), f.user(t, "bob")
	conn := f.connect(t, a, b)
	f.clock.Set(conn.Expiry.Add(time.Minute))

	_, err := f.lifecycle.Live(context.Background(), conn.ID)
	require.ErrorIs(t, err, ErrConnectionExpired)
}

func TestForParticipant_RejectsOutsider(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	conn := f.connect(t, a, b)

	_, err := f.lifecycle.ForParticipant(context.Background(), conn.ID, c.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPruneConnections_DropsExpiredAndDangling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	old := f.connect(t, a, b)
	f.clock.Advance(3 * 24 * time.Hour)
	fresh := f.connect(t, a, c)
	require.NoError(t, f.store.Users().AddConnection(ctx, a.ID, "dangling"))

	f.clock.Set(old.Expiry.Add(time.Second))
	live, err := f.lifecycle.PruneConnections(ctx, a.ID, f.reload(t, a.ID).Connections)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, fresh.ID, live[0].ID)
	assert.Equal(t, []string{fresh.ID}, f.reload(t, a.ID).Connections)
}
