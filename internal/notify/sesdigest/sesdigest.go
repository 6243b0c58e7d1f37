// Package sesdigest implements a Sink that emails digests via AWS SES v2.
package sesdigest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/inbox-triage-lite/internal/notify"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating a Notifier.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	Recipient       string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Notifier mails the digest of one run as a plain-text email.
type Notifier struct {
	sender    string
	recipient string
	client    SendEmailAPI
}

// New creates a SES Notifier with the given configuration.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Notifier{
		sender:    cfg.Sender,
		recipient: cfg.Recipient,
		client:    sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient creates a Notifier with a custom client, used for testing.
func NewWithClient(sender, recipient string, client SendEmailAPI) *Notifier {
	return &Notifier{
		sender:    sender,
		recipient: recipient,
		client:    client,
	}
}

// SendSummary mails the digest.
func (n *Notifier) SendSummary(ctx context.Context, d *notify.Digest) error {
	subject := fmt.Sprintf("Inbox digest: %d unread", d.Total)
	return n.send(ctx, subject, formatBody(d))
}

// SendAlert mails a short standalone notice.
func (n *Notifier) SendAlert(ctx context.Context, text string) error {
	return n.send(ctx, "Inbox alert", text+"\n")
}

// Name returns the sink name.
func (n *Notifier) Name() string {
	return "ses"
}

// send delivers one simple email with retry for transient failures.
func (n *Notifier) send(ctx context.Context, subject, body string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.sender),
		Destination: &types.Destination{
			ToAddresses: []string{n.recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			delay := backoffDelay(attempt)
			if err := sleepWithContext(ctx, delay); err != nil {
				return &notify.NotifierError{Sink: "ses", Msg: "context cancelled during retry wait", Err: err}
			}
		}

		_, err := n.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return &notify.NotifierError{
		Sink: "ses",
		Msg:  fmt.Sprintf("delivery failed after %d retries", maxRetries),
		Err:  lastErr,
	}
}

// formatBody renders the digest as plain text.
func formatBody(d *notify.Digest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Inbox digest — %d unread message(s)\n", d.Total)
	if !d.Generated.IsZero() {
		fmt.Fprintf(&b, "Generated: %s\n", d.Generated.Format(time.RFC1123))
	}
	for _, g := range d.Groups {
		fmt.Fprintf(&b, "\n%s (%d)\n", g.Category, g.Count)
		for _, item := range g.Items {
			fmt.Fprintf(&b, "  - %s: %s\n", item.Sender, item.Subject)
		}
	}

	return b.String()
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
