package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ValidationResult is the outcome of validating one operator input.
type ValidationResult struct {
	Valid   bool
	Message string
}

// HTTPClient is used by validators that call a vendor API.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector opens and immediately closes a connection.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector verifies a DSN with pgx.
type PgxConnector struct{}

// Connect dials dsn and closes the connection.
func (PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// Validator checks operator inputs before they are written.
type Validator struct {
	httpClient  HTTPClient
	dbConn      DatabaseConnector
	sendGridURL string
}

// NewValidator creates a Validator with a real HTTP client and pgx.
func NewValidator() *Validator {
	return NewValidatorWithDeps(&http.Client{Timeout: 10 * time.Second}, PgxConnector{}, "https://api.sendgrid.com")
}

// NewValidatorWithDeps creates a Validator with injected dependencies.
func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector, sendGridURL string) *Validator {
	return &Validator{httpClient: httpClient, dbConn: dbConn, sendGridURL: strings.TrimRight(sendGridURL, "/")}
}

const validateTimeout = 15 * time.Second

// ValidateDatabaseURL checks the scheme and that the database accepts a
// connection with the given credentials.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("invalid URL format: %v", err)}
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{Message: fmt.Sprintf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)}
	}
	if parsed.Hostname() == "" {
		return ValidationResult{Message: "database URL has no host"}
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return ValidationResult{Message: fmt.Sprintf("connection failed: %v", err)}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("database connection verified (host=%s)", parsed.Hostname())}
}

// ValidateSendGridKey checks the key prefix and that it may send mail,
// using the scopes endpoint.
func (v *Validator) ValidateSendGridKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, "SG.") {
		return ValidationResult{Message: "SendGrid API key should start with 'SG.'"}
	}

	reqCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, v.sendGridURL+"/v3/scopes", nil)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "SubTrack-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("SendGrid API check failed: %v", err)}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ValidationResult{Message: fmt.Sprintf("SendGrid API returned HTTP %d: key is invalid", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return ValidationResult{Message: fmt.Sprintf("SendGrid API returned HTTP %d", resp.StatusCode)}
	case !strings.Contains(string(body), `"mail.send"`):
		return ValidationResult{Message: "SendGrid API key lacks the mail.send scope"}
	}
	return ValidationResult{Valid: true, Message: "SendGrid API key verified (mail.send scope present)"}
}
