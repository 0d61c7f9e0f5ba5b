package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// implicitTLSPort is the SMTPS submission port. Every other port connects in
// plain text and upgrades with STARTTLS when the server offers it.
const implicitTLSPort = 465

// SMTPConfig holds the configuration for creating an SMTPMailer.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	LocalName string
	// RequireTLS refuses to authenticate or submit over a cleartext
	// connection to a non-loopback host when STARTTLS is not offered.
	RequireTLS bool
	// Timeout bounds each SMTP command and the DATA transfer.
	Timeout time.Duration
	// DKIM signs outbound messages when set.
	DKIM *DKIMSigner
}

// ErrTLSRequired is returned when RequireTLS is set and the server does not
// offer STARTTLS.
var ErrTLSRequired = errors.New("SMTP server does not offer STARTTLS")

// smtpClient is the subset of *smtp.Client used for one delivery.
type smtpClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a sasl.Client) error
	SendMail(from string, to []string, r io.Reader) error
	Quit() error
	Close() error
}

// SMTPMailer delivers messages through an authenticated SMTP relay. A new
// connection is opened per message.
type SMTPMailer struct {
	cfg  SMTPConfig
	addr string
	now  func() time.Time
	dial func() (smtpClient, error)
}

// NewSMTPMailer creates an SMTPMailer for cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		now:  time.Now,
	}
	m.dial = m.dialServer
	return m
}

// Name returns the provider name.
func (m *SMTPMailer) Name() string {
	return "smtp"
}

// Send renders, optionally signs, and submits env. It returns when the
// server accepts the message or ctx is done, whichever comes first.
func (m *SMTPMailer) Send(ctx context.Context, env Envelope) error {
	msg, err := BuildMessage(env, m.now())
	if err != nil {
		return err
	}
	if m.cfg.DKIM != nil {
		if msg, err = m.cfg.DKIM.Sign(msg); err != nil {
			return err
		}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- m.deliver(ctx, env.From, env.To, msg)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp delivery aborted: %w", ctx.Err())
	}
}

func (m *SMTPMailer) deliver(ctx context.Context, from, to string, msg []byte) error {
	c, err := m.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", m.addr, err)
	}
	defer c.Close()

	// Closing the connection unblocks any in-flight command.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if m.cfg.LocalName != "" {
		if err := c.Hello(m.cfg.LocalName); err != nil {
			return fmt.Errorf("HELO failed: %w", err)
		}
	}

	if m.cfg.Port != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(m.tlsConfig()); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		} else if m.cfg.RequireTLS && !isLoopback(m.cfg.Host) {
			return fmt.Errorf("%w: refusing cleartext session to %s", ErrTLSRequired, m.addr)
		}
	}

	if m.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("SMTP server does not support authentication")
		}
		if err := c.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := c.SendMail(from, []string{to}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return c.Quit()
}

func (m *SMTPMailer) dialServer() (smtpClient, error) {
	var (
		c   *smtp.Client
		err error
	)
	if m.cfg.Port == implicitTLSPort {
		c, err = smtp.DialTLS(m.addr, m.tlsConfig())
	} else {
		c, err = smtp.Dial(m.addr)
	}
	if err != nil {
		return nil, err
	}
	if m.cfg.Timeout > 0 {
		c.CommandTimeout = m.cfg.Timeout
		c.SubmissionTimeout = m.cfg.Timeout
	}
	return c, nil
}

func (m *SMTPMailer) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
