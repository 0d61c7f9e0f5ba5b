package mailer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// StdoutMailer prints messages in a human-readable format instead of
// delivering them. It is meant for local development.
type StdoutMailer struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewStdoutMailer creates a StdoutMailer that writes to os.Stdout.
func NewStdoutMailer() *StdoutMailer {
	return &StdoutMailer{writer: os.Stdout}
}

// NewStdoutMailerWithWriter creates a StdoutMailer that writes to w.
func NewStdoutMailerWithWriter(w io.Writer) *StdoutMailer {
	return &StdoutMailer{writer: w}
}

// Name returns the provider name.
func (p *StdoutMailer) Name() string {
	return "stdout"
}

// Send prints env. Write errors are returned so a broken pipe surfaces as a
// delivery failure.
func (p *StdoutMailer) Send(_ context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", env.FromHeader())
	fmt.Fprintf(&b, "To: %s\n", env.To)
	if env.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\n", env.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\n", env.Subject)
	b.WriteString("Body:\n")
	b.WriteString(env.TextBody + "\n")
	b.WriteString("========================================\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
