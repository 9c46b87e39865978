package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPushSender struct {
	sent []*apns2.Notification
	err  error
}

func (s *stubPushSender) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, n)
	return &apns2.Response{StatusCode: apns2.StatusSent}, nil
}

func TestPushNotifier_Notify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	token := "device-a"
	require.NoError(t, f.store.Users().UpdatePushToken(ctx, a.ID, &token))

	sender := &stubPushSender{}
	notifier := NewPushNotifier(f.store.Users(), sender, "com.example.click")

	notifier.Notify(ctx, a.ID, WSMessage{Type: EventNewMessage, ConnectionID: "c1", Message: "hey"})
	require.Len(t, sender.sent, 1)
	n := sender.sent[0]
	assert.Equal(t, "device-a", n.DeviceToken)
	assert.Equal(t, "com.example.click", n.Topic)
	p, ok := n.Payload.(*payload.Payload)
	require.True(t, ok)
	raw, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"hey"`)
	assert.Contains(t, string(raw), `"connection_id":"c1"`)

	// no token, unknown user, and event types without an alert are skipped
	notifier.Notify(ctx, b.ID, WSMessage{Type: EventNewMessage})
	notifier.Notify(ctx, "missing", WSMessage{Type: EventNewMessage})
	notifier.Notify(ctx, a.ID, WSMessage{Type: EventTyping})
	assert.Len(t, sender.sent, 1)
}

func TestPushNotifier_SendErrorIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	token := "device-a"
	require.NoError(t, f.store.Users().UpdatePushToken(ctx, a.ID, &token))

	notifier := NewPushNotifier(f.store.Users(), &stubPushSender{err: errors.New("apns down")}, "topic")
	assert.NotPanics(t, func() {
		notifier.Notify(ctx, a.ID, WSMessage{Type: EventChatBegun})
	})
}
