package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_CreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.CreateUser(ctx, CreateUserRequest{Name: " Alice ", Email: "Alice@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, user.Token)
	assert.NotNil(t, user.Connections)
	assert.NotNil(t, user.PairedWith)

	id, err := f.users.ValidateJWT(user.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestUserService_CreateUserRegisteredEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, err := f.users.CreateUser(ctx, CreateUserRequest{Name: "bob", Email: "bob@example.com"})
	require.NoError(t, err)

	taken, err := f.users.CreateUser(ctx, CreateUserRequest{Name: "mallory", Email: "BOB@example.com"})
	require.ErrorIs(t, err, ErrEmailTaken)
	assert.Nil(t, taken)

	stored := f.reload(t, bob.ID)
	assert.Equal(t, "bob", stored.Name)
}

func TestUserService_FindByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, err := f.users.CreateUser(ctx, CreateUserRequest{Name: "bob", Email: "bob@example.com", Image: "https://img/bob"})
	require.NoError(t, err)

	found, err := f.users.FindByEmail(ctx, " Bob@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, &PublicUser{ID: bob.ID, Name: "bob", Image: "https://img/bob"}, found)

	_, err = f.users.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.users.FindByEmail(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUserService_CreateUserValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.CreateUser(ctx, CreateUserRequest{Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.users.CreateUser(ctx, CreateUserRequest{Name: "A", Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUserService_NewUsersDoNotShareLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.users.CreateUser(ctx, CreateUserRequest{Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	b, err := f.users.CreateUser(ctx, CreateUserRequest{Name: "B", Email: "b@example.com"})
	require.NoError(t, err)

	a.Connections = append(a.Connections, "x")
	assert.Empty(t, b.Connections)
}

func TestUserService_ValidateJWT(t *testing.T) {
	f := newFixture(t)

	_, err := f.users.ValidateJWT("garbage")
	assert.Error(t, err)

	other := NewUserService(nil, nil, "another-secret")
	token, err := other.GenerateJWT("u1")
	require.NoError(t, err)
	_, err = f.users.ValidateJWT(token)
	assert.Error(t, err, "signature from a different secret")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1",
		"exp":     t0.Add(-time.Hour).Unix(),
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = f.users.ValidateJWT(signed)
	assert.Error(t, err)

	missing := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": t0.Add(time.Hour).Unix()})
	signed, err = missing.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = f.users.ValidateJWT(signed)
	assert.Error(t, err)
}

func TestUserService_GetUserPrunes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	conn := f.connect(t, a, b)

	_, err := f.pairing.PollForPairing(ctx, a.ID)
	require.NoError(t, err)

	got, err := f.users.GetUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{conn.ID}, got.Connections)
	assert.Equal(t, conn.ID, got.ConnectionToday)

	f.clock.Set(conn.Expiry.Add(time.Second))
	got, err = f.users.GetUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Connections)
	assert.Empty(t, got.ConnectionToday)
	assert.Equal(t, []string{conn.ID}, got.PairedWith, "paired_with is append-only")

	_, err = f.users.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserService_UpdatePushToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")

	token := " device-token "
	require.NoError(t, f.users.UpdatePushToken(ctx, a.ID, &token))
	got := f.reload(t, a.ID)
	require.NotNil(t, got.PushToken)
	assert.Equal(t, "device-token", *got.PushToken)

	blank := ""
	require.NoError(t, f.users.UpdatePushToken(ctx, a.ID, &blank))
	assert.Nil(t, f.reload(t, a.ID).PushToken)

	assert.ErrorIs(t, f.users.UpdatePushToken(ctx, "missing", nil), ErrNotFound)
}
