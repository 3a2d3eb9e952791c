// Package ses implements an EmailTransport that sends emails via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/shineum/research-mailer/internal/email"
	"github.com/shineum/research-mailer/internal/transport"
)

// Config holds the configuration for creating a Transport.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Transport sends emails via the AWS SES v2 API.
type Transport struct {
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new Transport with the given configuration. Static keys are
// used when both are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Transport, error) {
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

	// The dispatcher owns the retry policy, which is to not retry.
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		o.RetryMaxAttempts = 1
	})

	return &Transport{client: client}, nil
}

// NewWithClient creates a Transport with a custom client, used for testing.
func NewWithClient(client SendEmailAPI) *Transport {
	return &Transport{client: client}
}

// Send submits a message through a single SendEmail call.
func (s *Transport) Send(ctx context.Context, msg *email.Message) (*transport.Receipt, error) {
	out, err := s.client.SendEmail(ctx, buildInput(msg))
	if err != nil {
		return nil, fmt.Errorf("SES SendEmail failed: %w", err)
	}

	receipt := &transport.Receipt{StatusCode: http.StatusOK}
	if out != nil {
		receipt.MessageID = aws.ToString(out.MessageId)
		if raw, ok := awsmiddleware.GetRawResponse(out.ResultMetadata).(*smithyhttp.Response); ok && raw.Response != nil {
			receipt.StatusCode = raw.StatusCode
		}
	}

	slog.Debug("SES accepted message",
		"message_id", msg.ID,
		"ses_message_id", receipt.MessageID,
	)

	return receipt, nil
}

// Name returns the transport name.
func (s *Transport) Name() string {
	return "ses"
}

// buildInput creates a SES SendEmailInput using the simple content format.
func buildInput(msg *email.Message) *sesv2.SendEmailInput {
	content := &types.Content{
		Data:    aws.String(msg.Body),
		Charset: aws.String("UTF-8"),
	}

	body := &types.Body{}
	if msg.ContentType == email.ContentTypeHTML {
		body.Html = content
	} else {
		body.Text = content
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}
