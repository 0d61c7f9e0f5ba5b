// Package mailer delivers composed contact notifications through an outbound
// provider: authenticated SMTP, AWS SES v2, or stdout for local development.
package mailer

import (
	"context"
	"errors"
	"net/mail"
)

// ErrInvalidEnvelope is returned when an envelope is missing a sender or
// recipient.
var ErrInvalidEnvelope = errors.New("mailer: envelope requires from and to addresses")

// Envelope is one outbound message. ReplyTo is the submitter's address so
// that replying from the mailbox reaches them directly.
type Envelope struct {
	From     string
	FromName string
	To       string
	ReplyTo  string
	Subject  string
	TextBody string
	HTMLBody string
}

// Validate checks the addresses required for delivery.
func (e Envelope) Validate() error {
	if e.From == "" || e.To == "" {
		return ErrInvalidEnvelope
	}
	return nil
}

// FromHeader renders the From header value, e.g. `"DAFC Website" <site@example.com>`.
func (e Envelope) FromHeader() string {
	return (&mail.Address{Name: e.FromName, Address: e.From}).String()
}

// Mailer is the interface that outbound delivery backends must implement.
type Mailer interface {
	// Send delivers env. It must honour ctx cancellation.
	Send(ctx context.Context, env Envelope) error

	// Name returns the provider name used in logs and metrics.
	Name() string
}
