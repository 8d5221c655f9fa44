package notification

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
)

const fcmSendTimeout = 10 * time.Second

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender delivers push notifications through Firebase Cloud Messaging.
type FCMSender struct {
	client messagingClient
}

// NewFCMSender creates a sender from an initialised Firebase app.
func NewFCMSender(ctx context.Context, app *firebase.App) (*FCMSender, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging client: %w", err)
	}
	return &FCMSender{client: client}, nil
}

// Send delivers one message with high priority on Android and the default
// sound on iOS.
func (s *FCMSender) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, fcmSendTimeout)
	defer cancel()

	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:    "default",
				Priority: messaging.PriorityHigh,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	if _, err := s.client.Send(ctx, msg); err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("device token no longer registered: %w", err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

// LogSender writes notifications to the log instead of delivering them. It is
// used when Firebase is not configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notification").Logger()}
}

func (s *LogSender) Send(_ context.Context, token, title, body string, data map[string]string) error {
	s.logger.Info().
		Str("token_suffix", tokenSuffix(token)).
		Str("title", title).
		Str("body", body).
		Interface("data", data).
		Msg("push notification (not delivered, firebase disabled)")
	return nil
}

func tokenSuffix(token string) string {
	if len(token) <= 6 {
		return token
	}
	return "..." + token[len(token)-6:]
}
