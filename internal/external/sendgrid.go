package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"subtrack/internal/types"
)

const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig configures a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// SendGridClient implements EmailProvider over the SendGrid v3 Mail Send API.
type SendGridClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

var _ EmailProvider = (*SendGridClient)(nil)

// NewSendGridClient creates a SendGridClient with the default retry policy.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	return NewSendGridClientWithBase(
		NewBaseClient(httpClient, "sendgrid", DefaultRetryPolicy(), "SubTrack/1.0"),
		cfg,
	)
}

// NewSendGridClientWithBase creates a SendGridClient on a caller-built
// BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// Send posts the message and returns the X-Message-Id header.
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(buildSendGridPayload(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal SendGrid payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.mapResponseError(ctx, resp)
}

func buildSendGridPayload(input types.SendInput) sendGridMailPayload {
	// SendGrid requires text/plain before text/html.
	var content []sendGridContent
	if input.BodyText != "" {
		content = append(content, sendGridContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		content = append(content, sendGridContent{Type: "text/html", Value: input.BodyHTML})
	}

	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: input.To}}}},
		From:             sendGridAddress{Email: input.From.Address, Name: input.From.Name},
		Subject:          input.Subject,
		Content:          content,
	}
	if input.ReferenceID != "" {
		payload.CustomArgs = map[string]string{"reference_id": input.ReferenceID}
	}
	return payload
}

// mapResponseError classifies a non-2xx, non-retryable SendGrid response.
func (s *SendGridClient) mapResponseError(ctx context.Context, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg, field := string(raw), ""
	var sgErr sendGridErrorResponse
	if json.Unmarshal(raw, &sgErr) == nil && len(sgErr.Errors) > 0 {
		msg, field = sgErr.Errors[0].Message, sgErr.Errors[0].Field
	}

	s.logger.WarnContext(ctx, "SendGrid rejected message",
		"status", resp.StatusCode,
		"field", field,
		"error", msg,
	)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(types.ErrCodeEmailBlocked, "SendGrid blocked delivery: "+msg, nil)
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(field, ".to"):
		return types.NewAppError(types.ErrCodeEmailInvalidRecipient, "SendGrid rejected recipient: "+msg, nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, msg), nil)
	}
}
