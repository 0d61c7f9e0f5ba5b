package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESConfig holds the configuration for creating an SESMailer.
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// ConfigurationSet is optional.
	ConfigurationSet string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer sends messages via the AWS SES v2 API. A failed call is not
// retried; the submitter sees the failure and may resend.
type SESMailer struct {
	client    SendEmailAPI
	configSet string
}

// NewSESMailer loads AWS configuration and creates an SESMailer. Static
// credentials are used when both keys are set, otherwise the default chain.
func NewSESMailer(ctx context.Context, cfg SESConfig) (*SESMailer, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESMailerWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewSESMailerWithClient creates an SESMailer with a custom client, used for testing.
func NewSESMailerWithClient(client SendEmailAPI, configurationSet string) *SESMailer {
	return &SESMailer{client: client, configSet: configurationSet}
}

// Name returns the provider name.
func (s *SESMailer) Name() string {
	return "ses"
}

// Send delivers env via SES v2.
func (s *SESMailer) Send(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if _, err := s.client.SendEmail(ctx, buildSESInput(env, s.configSet)); err != nil {
		return fmt.Errorf("SES API request failed: %w", err)
	}
	return nil
}

func buildSESInput(env Envelope, configSet string) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.FromHeader()),
		Destination: &types.Destination{
			ToAddresses: []string{env.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(env.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(env.TextBody),
						Charset: aws.String("UTF-8"),
					},
					Html: &types.Content{
						Data:    aws.String(env.HTMLBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
	if env.ReplyTo != "" {
		input.ReplyToAddresses = []string{env.ReplyTo}
	}
	if configSet != "" {
		input.ConfigurationSetName = aws.String(configSet)
	}
	return input
}
