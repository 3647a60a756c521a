// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package mail delivers account notifications over SMTP.
package mail

import (
	"context"

	"github.com/samber/oops"
	gomail "gopkg.in/gomail.v2"

	"github.com/gatehouse/gatehouse/internal/account"
)

// Mailer implements account.NotificationSink using SMTP via gomail.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer creates a Mailer.
func NewMailer(host string, port int, username, password, from string) (*Mailer, error) {
	if host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if from == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("from address is required")
	}
	return &Mailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}, nil
}

// Send delivers a plain-text message. The context is honored up to handing
// the message to the SMTP dialer, which manages its own timeouts.
func (m *Mailer) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").Wrap(err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("operation", "dial and send").
			Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ account.NotificationSink = (*Mailer)(nil)
