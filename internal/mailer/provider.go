package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/darleyabbeyfc/contact-gateway/internal/config"
)

// New builds the provider selected by cfg.Provider and wraps it in a
// Guarded mailer for staff notifications. When cfg.SendAck is set it also
// returns a separately guarded mailer for submitter receipts, so bouncing
// submitter addresses cannot open the staff circuit. The caller checks
// cfg.Configured first.
func New(ctx context.Context, cfg config.MailConfig, log *slog.Logger) (staff, ack Mailer, err error) {
	next, err := NewProvider(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	staff = NewGuarded(next, GuardOptions{
		SendsPerSecond: cfg.SendsPerSecond,
		Logger:         log,
	})
	if cfg.SendAck {
		ack = NewGuarded(next, GuardOptions{
			Name:           next.Name() + "_ack",
			SendsPerSecond: cfg.SendsPerSecond,
			Logger:         log,
		})
	}
	return staff, ack, nil
}

// NewProvider builds the unguarded provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.MailConfig, log *slog.Logger) (Mailer, error) {
	var (
		next Mailer
		err  error
	)

	switch cfg.Provider {
	case config.ProviderSMTP:
		smtpCfg := SMTPConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			Username:   cfg.User,
			Password:   cfg.Password,
			RequireTLS: cfg.RequireTLS,
			Timeout:    cfg.SendTimeout,
		}
		if cfg.DKIMEnabled() {
			smtpCfg.DKIM, err = LoadDKIMSigner(cfg.DKIMDomain, cfg.DKIMSelector, cfg.DKIMKeyFile)
			if err != nil {
				return nil, err
			}
		}
		next = NewSMTPMailer(smtpCfg)
	case config.ProviderSES:
		next, err = NewSESMailer(ctx, SESConfig{
			Region:           cfg.SESRegion,
			AccessKeyID:      cfg.SESAccessKeyID,
			SecretAccessKey:  cfg.SESSecretAccessKey,
			ConfigurationSet: cfg.SESConfigurationSet,
		})
		if err != nil {
			return nil, err
		}
	case config.ProviderStdout:
		next = NewStdoutMailer()
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}

	log.Info("mail provider initialized",
		slog.String("provider", next.Name()),
		slog.Bool("dkim", cfg.Provider == config.ProviderSMTP && cfg.DKIMEnabled()),
	)

	return next, nil
}
