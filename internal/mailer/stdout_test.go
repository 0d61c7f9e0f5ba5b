package mailer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStdoutMailer_Send(t *testing.T) {
	var buf bytes.Buffer
	p := NewStdoutMailerWithWriter(&buf)

	if err := p.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`From: "DAFC Website" <site@darleyabbeyfc.example>`,
		"To: club@darleyabbeyfc.example",
		"Reply-To: jo@example.com",
		"Subject: [DAFC Contact] Junior training",
		"Name: Jo",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStdoutMailer_WriteError(t *testing.T) {
	p := NewStdoutMailerWithWriter(failingWriter{})
	if err := p.Send(context.Background(), testEnvelope()); err == nil {
		t.Fatal("expected write error to surface")
	}
}

func TestStdoutMailer_Name(t *testing.T) {
	if got := NewStdoutMailer().Name(); got != "stdout" {
		t.Errorf("Name: got %q", got)
	}
}
