// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package account

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// URLBuilder turns a transport-encoded token into the URL embedded in a
// notification. Callers own URL shape; the core never constructs URLs.
type URLBuilder func(encodedToken string) string

// NotificationSink delivers a message to a recipient. Implementations wrap
// whatever transport the application uses (SMTP, a queue, a test capture).
type NotificationSink interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Notifier composes and delivers account lifecycle notifications.
type Notifier struct {
	sink   NotificationSink
	logger *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(sink NotificationSink, logger *slog.Logger) (*Notifier, error) {
	if sink == nil {
		return nil, oops.Code("NOTIFIER_INVALID").Errorf("notification sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sink: sink, logger: logger}, nil
}

// DeliverEmailChangeInstructions sends the change-confirmation link to the
// prospective address.
func (n *Notifier) DeliverEmailChangeInstructions(ctx context.Context, newEmail, url string) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nYou can change your email by visiting the URL below:\n\n%s\n\nIf you didn't request this change, please ignore this message.\n",
		newEmail, url)

	if err := n.sink.Send(ctx, newEmail, "Confirm your new email", body); err != nil {
		return oops.Code("NOTIFY_DELIVERY_FAILED").
			With("operation", "send email change instructions").
			Wrap(err)
	}

	n.logger.InfoContext(ctx, "email change instructions delivered")
	return nil
}

// DeliverLoginLink sends a magic-link login URL to the account's address.
func (n *Notifier) DeliverLoginLink(ctx context.Context, email, url string) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nYou can log into your account by visiting the URL below:\n\n%s\n\nThis link expires shortly and can be used once. If you didn't request it, please ignore this message.\n",
		email, url)

	if err := n.sink.Send(ctx, email, "Log in to your account", body); err != nil {
		return oops.Code("NOTIFY_DELIVERY_FAILED").
			With("operation", "send login link").
			Wrap(err)
	}

	n.logger.InfoContext(ctx, "login link delivered")
	return nil
}
