package mailer

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
)

// BuildMessage renders env as a multipart/alternative RFC 5322 message with
// a text and an HTML part.
func BuildMessage(env Envelope, now time.Time) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	b := enmime.Builder().
		From(env.FromName, env.From).
		To("", env.To).
		Subject(env.Subject).
		Date(now).
		Header("Message-ID", messageID(env.From)).
		Text([]byte(env.TextBody)).
		HTML([]byte(env.HTMLBody))
	if env.ReplyTo != "" {
		b = b.ReplyTo("", env.ReplyTo)
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
