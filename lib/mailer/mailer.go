/*
 * Keyserver
 * Copyright (C) 2026  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package mailer delivers localized verification emails over SMTP.
package mailer

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/gravitational/trace"
	"gopkg.in/mail.v2"

	"github.com/gravitational/keyserver"
	"github.com/gravitational/keyserver/lib/defaults"
)

// Email templates. Each exists in every configured locale.
const (
	// TemplateVerifyKey challenges a freshly submitted user ID.
	TemplateVerifyKey = "verifyKey"
	// TemplateVerifyRemove challenges a key removal request.
	TemplateVerifyRemove = "verifyRemove"
)

// Email is one verification message to render and deliver.
type Email struct {
	// Template is one of TemplateVerifyKey, TemplateVerifyRemove.
	Template string
	// Locale selects the translation, falling back to english.
	Locale string
	// Recipient is the user ID email address.
	Recipient string
	// Name is the user ID display name, possibly empty.
	Name string
	// KeyID identifies the key the challenge belongs to.
	KeyID string
	// Nonce is the single-use challenge token.
	Nonce string
	// Origin is the external base URL of this server.
	Origin string
}

// Check validates the email.
func (e *Email) Check() error {
	if e.Template != TemplateVerifyKey && e.Template != TemplateVerifyRemove {
		return trace.BadParameter("unknown email template %q", e.Template)
	}
	if e.Recipient == "" {
		return trace.BadParameter("missing recipient")
	}
	if e.KeyID == "" || e.Nonce == "" || e.Origin == "" {
		return trace.BadParameter("missing key id, nonce or origin")
	}
	return nil
}

// VerifyURL is the link embedded in the message body. The recipient
// proves control of the address by opening it.
func (e *Email) VerifyURL() string {
	op := "verify"
	if e.Template == TemplateVerifyRemove {
		op = "verifyRemove"
	}
	q := url.Values{}
	q.Set("op", op)
	q.Set("keyId", e.KeyID)
	q.Set("nonce", e.Nonce)
	return e.Origin + "/api/v1/key?" + q.Encode()
}

// Mailer is an interface to a mail sender. Every call sends; callers
// are responsible for not sending redundantly.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SMTPConfig holds the SMTP transport parameters.
type SMTPConfig struct {
	// Host is the relay hostname.
	Host string
	// Port is the submission port, defaults.SMTPPort when zero.
	Port int
	// Username and Password authenticate against the relay when set.
	Username string
	Password string
	// Sender is the From address of all outgoing mail.
	Sender string
	// RequireTLS mandates STARTTLS instead of using it opportunistically.
	RequireTLS bool
	// Logger emits structured mailer logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *SMTPConfig) CheckAndSetDefaults() error {
	if c.Host == "" {
		return trace.BadParameter("missing SMTP host")
	}
	if c.Sender == "" {
		return trace.BadParameter("missing SMTP sender address")
	}
	if c.Port == 0 {
		c.Port = defaults.SMTPPort
	}
	if c.Logger == nil {
		c.Logger = slog.With(keyserver.ComponentKey, keyserver.ComponentMailer)
	}
	return nil
}

// SMTPMailer renders templates and delivers them through an SMTP relay.
type SMTPMailer struct {
	dialer *mail.Dialer
	sender string
	logger *slog.Logger
}

// NewSMTPMailer initializes an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = defaults.SMTPDialTimeout
	dialer.StartTLSPolicy = mail.OpportunisticStartTLS
	if cfg.RequireTLS {
		dialer.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return &SMTPMailer{
		dialer: dialer,
		sender: cfg.Sender,
		logger: cfg.Logger,
	}, nil
}

// Send renders the email in its locale and delivers it. Transport
// failures surface as connection problems for the caller to count.
func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := email.Check(); err != nil {
		return trace.Wrap(err)
	}
	subject, body, err := Render(email)
	if err != nil {
		return trace.Wrap(err)
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.sender)
	msg.SetAddressHeader("To", email.Recipient, email.Name)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return trace.ConnectionProblem(err, "failed to deliver %v email to %v", email.Template, email.Recipient)
	}
	m.logger.InfoContext(ctx, "Delivered verification email",
		"template", email.Template, "key_id", email.KeyID)
	return nil
}
