package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"subtrack/internal/types"
)

// SESAPI is the subset of the SES v2 client SESClient calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig configures an SESClient.
type SESClientConfig struct {
	// ConfigSetName enables SES event publishing when set.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient implements EmailProvider on AWS SES v2. The SDK retries
// throttling itself, so it does not go through BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

var _ EmailProvider = (*SESClient)(nil)

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI creates an SESClient on a caller-provided API.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, configSetName: cfg.ConfigSetName, logger: logger}
}

func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	from := input.From.Address
	if input.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", input.From.Name, input.From.Address)
	}

	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}

	params := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{Subject: utf8Content(input.Subject), Body: body},
		},
	}
	if s.configSetName != "" {
		params.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.ReferenceID != "" {
		params.EmailTags = []sestypes.MessageTag{{Name: aws.String("reference_id"), Value: aws.String(input.ReferenceID)}}
	}

	out, err := s.api.SendEmail(ctx, params)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func utf8Content(data string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

func mapSESError(err error) error {
	var (
		rejected *sestypes.MessageRejected
		badReq   *sestypes.BadRequestException
		throttle *sestypes.TooManyRequestsException
		limit    *sestypes.LimitExceededException
		paused   *sestypes.SendingPausedException
	)
	switch {
	case errors.As(err, &rejected):
		return types.NewAppError(types.ErrCodeEmailBlocked, "SES rejected message", err)
	case errors.As(err, &badReq):
		return types.NewAppError(types.ErrCodeEmailInvalidRecipient, "SES rejected request", err)
	case errors.As(err, &throttle), errors.As(err, &limit):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	case errors.As(err, &paused):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SES sending paused", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SES send failed", err)
	}
}
