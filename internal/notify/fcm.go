package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMSink sends push notifications through Firebase Cloud Messaging.
type FCMSink struct {
	client *messaging.Client
}

// NewFCMSink initializes the Firebase app from a service-account
// credentials file.
func NewFCMSink(ctx context.Context, credentialsPath string) (*FCMSink, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}

	return &FCMSink{client: client}, nil
}

// Send pushes one notification to the device token. Unregistered or invalid
// tokens are mapped to ErrPermanent so the worker stops retrying them.
func (s *FCMSink) Send(ctx context.Context, target, title, body string, metadata map[string]string) error {
	msg := &messaging.Message{
		Token: target,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: metadata,
	}

	_, err := s.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
