package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/jhillyerd/enmime"
)

// fakeSMTPClient records one session. SendMail blocks until Close when
// blockSend is set.
type fakeSMTPClient struct {
	mu        sync.Mutex
	exts      map[string]bool
	calls     []string
	from      string
	to        []string
	data      []byte
	blockSend bool
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSMTPClient(exts ...string) *fakeSMTPClient {
	f := &fakeSMTPClient{exts: map[string]bool{}, closed: make(chan struct{})}
	for _, e := range exts {
		f.exts[e] = true
	}
	return f
}

func (f *fakeSMTPClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSMTPClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSMTPClient) Hello(string) error {
	f.record("HELO")
	return nil
}

func (f *fakeSMTPClient) Extension(ext string) (bool, string) {
	return f.exts[ext], ""
}

func (f *fakeSMTPClient) StartTLS(*tls.Config) error {
	f.record("STARTTLS")
	return nil
}

func (f *fakeSMTPClient) Auth(a sasl.Client) error {
	mech, ir, err := a.Start()
	if err != nil {
		return err
	}
	f.record("AUTH " + mech + " " + strings.ReplaceAll(string(ir), "\x00", "|"))
	return nil
}

func (f *fakeSMTPClient) SendMail(from string, to []string, r io.Reader) error {
	f.record("SENDMAIL")
	if f.blockSend {
		<-f.closed
		return errors.New("use of closed network connection")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.from, f.to, f.data = from, to, data
	f.mu.Unlock()
	return nil
}

func (f *fakeSMTPClient) Quit() error {
	f.record("QUIT")
	return nil
}

func (f *fakeSMTPClient) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func newTestSMTPMailer(cfg SMTPConfig, client *fakeSMTPClient) *SMTPMailer {
	m := NewSMTPMailer(cfg)
	m.dial = func() (smtpClient, error) { return client, nil }
	return m
}

func TestSMTPMailer_STARTTLSSession(t *testing.T) {
	client := newFakeSMTPClient("STARTTLS", "AUTH")
	m := newTestSMTPMailer(SMTPConfig{
		Host:     "smtp.example.org",
		Port:     587,
		Username: "site@darleyabbeyfc.example",
		Password: "hunter2",
	}, client)

	if err := m.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := []string{"STARTTLS", "AUTH PLAIN |site@darleyabbeyfc.example|hunter2", "SENDMAIL", "QUIT"}
	if got := client.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls: got %v, want %v", got, want)
	}
	if client.from != "site@darleyabbeyfc.example" {
		t.Errorf("MAIL FROM: got %q", client.from)
	}
	if len(client.to) != 1 || client.to[0] != "club@darleyabbeyfc.example" {
		t.Errorf("RCPT TO: got %v", client.to)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(client.data))
	if err != nil {
		t.Fatalf("submitted data is not a valid message: %v", err)
	}
	if got := env.GetHeader("Subject"); got != "[DAFC Contact] Junior training" {
		t.Errorf("Subject: got %q", got)
	}
}

func TestSMTPMailer_ImplicitTLSSkipsSTARTTLS(t *testing.T) {
	client := newFakeSMTPClient("STARTTLS", "AUTH")
	m := newTestSMTPMailer(SMTPConfig{Host: "smtp.example.org", Port: 465, Username: "u", Password: "p"}, client)

	if err := m.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	for _, c := range client.Calls() {
		if c == "STARTTLS" {
			t.Fatal("STARTTLS must not be issued on the implicit TLS port")
		}
	}
}

func TestSMTPMailer_RequiresAuthExtension(t *testing.T) {
	client := newFakeSMTPClient("STARTTLS")
	m := newTestSMTPMailer(SMTPConfig{Host: "smtp.example.org", Port: 587, Username: "u", Password: "p"}, client)

	if err := m.Send(context.Background(), testEnvelope()); err == nil {
		t.Fatal("expected error when server does not offer AUTH")
	}
	for _, c := range client.Calls() {
		if c == "SENDMAIL" {
			t.Fatal("message must not be submitted without authentication")
		}
	}
}

func TestSMTPMailer_RequireTLS(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		exts     []string
		wantErr  bool
		wantCall string
	}{
		{"no STARTTLS on remote host", "smtp.example.org", []string{"AUTH"}, true, ""},
		{"STARTTLS offered", "smtp.example.org", []string{"STARTTLS", "AUTH"}, false, "STARTTLS"},
		{"loopback relay", "127.0.0.1", []string{"AUTH"}, false, "SENDMAIL"},
		{"localhost relay", "localhost", []string{"AUTH"}, false, "SENDMAIL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeSMTPClient(tt.exts...)
			m := newTestSMTPMailer(SMTPConfig{
				Host:       tt.host,
				Port:       587,
				Username:   "u",
				Password:   "p",
				RequireTLS: true,
			}, client)

			err := m.Send(context.Background(), testEnvelope())
			if tt.wantErr {
				if !errors.Is(err, ErrTLSRequired) {
					t.Fatalf("expected ErrTLSRequired, got %v", err)
				}
				if len(client.Calls()) != 0 {
					t.Errorf("credentials or data sent over cleartext: %v", client.Calls())
				}
				return
			}
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if !strings.Contains(strings.Join(client.Calls(), ","), tt.wantCall) {
				t.Errorf("calls %v should include %s", client.Calls(), tt.wantCall)
			}
		})
	}
}

func TestSMTPMailer_SignsWithDKIM(t *testing.T) {
	client := newFakeSMTPClient("AUTH")
	m := newTestSMTPMailer(SMTPConfig{
		Host:     "smtp.example.org",
		Port:     465,
		Username: "u",
		Password: "p",
		DKIM:     NewDKIMSigner("darleyabbeyfc.example", "site", newTestKey(t)),
	}, client)

	if err := m.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !bytes.HasPrefix(client.data, []byte("DKIM-Signature:")) {
		t.Error("submitted message should carry a DKIM signature")
	}
}

func TestSMTPMailer_HonoursContextDeadline(t *testing.T) {
	client := newFakeSMTPClient("AUTH")
	client.blockSend = true
	m := newTestSMTPMailer(SMTPConfig{Host: "smtp.example.org", Port: 465, Username: "u", Password: "p"}, client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := m.Send(ctx, testEnvelope())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send returned after %v, want prompt return", elapsed)
	}

	select {
	case <-client.closed:
	case <-time.After(time.Second):
		t.Fatal("connection should be closed once the context is done")
	}
}

func TestSMTPMailer_DialError(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.org", Port: 587})
	m.dial = func() (smtpClient, error) { return nil, errors.New("connection refused") }

	err := m.Send(context.Background(), testEnvelope())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected dial error, got %v", err)
	}
}
