package external

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"subtrack/internal/config"
)

// sendGridTimeout bounds a single Mail Send attempt.
const sendGridTimeout = 10 * time.Second

// NewEmailProvider returns the provider selected by cfg.Provider. awsCfg is
// only used by the SES provider.
func NewEmailProvider(cfg config.EmailConfig, awsCfg aws.Config, logger *slog.Logger) (EmailProvider, error) {
	switch cfg.Provider {
	case "sendgrid":
		return NewSendGridClient(&http.Client{Timeout: sendGridTimeout}, SendGridClientConfig{
			APIKey:  cfg.SendGridAPIKey.Unmask(),
			BaseURL: cfg.SendGridURL,
			Logger:  logger,
		}), nil
	case "ses":
		return NewSESClient(awsCfg, SESClientConfig{ConfigSetName: cfg.SESConfigSet, Logger: logger}), nil
	case "stub":
		return NewStubEmailProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
