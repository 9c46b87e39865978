package services

import (
	"context"
	"fmt"

	"click-backend/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
)

// PushSender delivers a single APNs notification
type PushSender interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// NewAPNSClient creates an APNs client from a .p12 certificate
func NewAPNSClient(cfg config.APNSConfig) (*apns2.Client, error) {
	cert, err := certificate.FromP12File(cfg.CertificatePath, cfg.CertificatePassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs certificate: %w", err)
	}
	client := apns2.NewClient(cert)
	if cfg.Production {
		return client.Production(), nil
	}
	return client.Development(), nil
}

// PushNotifier sends events to users' devices through APNs. Users without a
// registered push token are skipped.
type PushNotifier struct {
	users  UserStore
	sender PushSender
	topic  string
}

// NewPushNotifier creates a new push notifier
func NewPushNotifier(users UserStore, sender PushSender, topic string) *PushNotifier {
	return &PushNotifier{users: users, sender: sender, topic: topic}
}

// Notify implements Notifier
func (p *PushNotifier) Notify(ctx context.Context, userID string, msg WSMessage) {
	alert, ok := pushAlerts[msg.Type]
	if !ok {
		return
	}
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load user for push")
		return
	}
	if user.PushToken == nil || *user.PushToken == "" {
		return
	}

	body := alert
	if msg.Type == EventNewMessage && msg.Message != "" {
		body = msg.Message
	}
	notification := &apns2.Notification{
		DeviceToken: *user.PushToken,
		Topic:       p.topic,
		Payload: payload.NewPayload().
			AlertBody(body).
			Sound("default").
			Custom("type", msg.Type).
			Custom("connection_id", msg.ConnectionID),
	}

	res, err := p.sender.PushWithContext(ctx, notification)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("Failed to send push notification")
		return
	}
	if !res.Sent() {
		log.Warn().
			Str("user_id", userID).
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Msg("Push notification rejected")
	}
}

var pushAlerts = map[string]string{
	EventPairingSelected:   "You have a new pairing today",
	EventChatBegun:         "Your chat has begun",
	EventConnectionCreated: "You have a new connection",
	EventConnectionExpired: "A connection has expired",
	EventNewMessage:        "New message",
}
