package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"click-backend/internal/config"
	"click-backend/internal/models"
	"click-backend/internal/repository"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvent struct {
	userID string
	msg    WSMessage
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, msg WSMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{userID: userID, msg: msg})
}

func (n *recordingNotifier) types(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.userID == userID {
			out = append(out, e.msg.Type)
		}
	}
	return out
}

type fixture struct {
	store       *repository.MemoryStore
	clock       *clock
	notifier    *recordingNotifier
	lifecycle   *ConnectionLifecycle
	gate        *ChatGate
	pairing     *PairingService
	connections *ConnectionService
	chat        *ChatService
	users       *UserService
}

var testPairingConfig = config.PairingConfig{
	ConnectionTTL:   7 * 24 * time.Hour,
	PairingInterval: 24 * time.Hour,
	PresenceWindow:  300 * time.Second,
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		clock:    &clock{now: t0},
		notifier: &recordingNotifier{},
	}
	users := f.store.Users()
	conns := f.store.Connections()

	f.lifecycle = NewConnectionLifecycle(users, conns, f.store.Messages(), f.notifier)
	f.lifecycle.now = f.clock.Now

	f.gate = NewChatGate(users, conns, f.notifier, testPairingConfig.PresenceWindow)

	f.pairing = NewPairingService(users, f.lifecycle, f.gate, f.store.Reconciliations(), f.notifier, testPairingConfig)
	f.pairing.now = f.clock.Now
	f.pairing.perm = identityPerm

	f.connections = NewConnectionService(users, conns, f.lifecycle, f.store.Reconciliations(), f.notifier, testPairingConfig.ConnectionTTL)
	f.connections.now = f.clock.Now

	f.chat = NewChatService(f.lifecycle, f.store.Messages(), f.gate, f.notifier, config.ChatConfig{
		TypingTTL:        5 * time.Second,
		MaxMessageLength: 20,
	})
	f.chat.now = f.clock.Now

	f.users = NewUserService(users, f.lifecycle, "test-secret")
	f.users.now = f.clock.Now
	return f
}

func identityPerm(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := models.NewUser(name, name+"@example.com", "", t0)
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func (f *fixture) connect(t *testing.T, a, b *models.User) *models.Connection {
	t.Helper()
	conn, err := f.connections.Create(context.Background(), a.ID, CreateConnectionRequest{UserID: b.ID})
	require.NoError(t, err)
	return conn
}

func (f *fixture) reload(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.store.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}
