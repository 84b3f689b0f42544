package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/types"
)

func newTestSendGrid(url string) *SendGridClient {
	base := NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "sendgrid-test", fastPolicy(0), "SubTrack-Test/1.0")
	return NewSendGridClientWithBase(base, SendGridClientConfig{APIKey: "SG.key", BaseURL: url})
}

func sampleInput() types.SendInput {
	return types.SendInput{
		To:          "ada@example.com",
		From:        types.SenderIdentity{Name: "SubTrack", Address: "reminders@subtrack.app"},
		Subject:     "Netflix renews in 3 days",
		BodyHTML:    "<p>hi</p>",
		BodyText:    "hi",
		ReferenceID: "run_1/send-reminder-3:2026-06-08",
	}
}

func TestSendGrid_Send(t *testing.T) {
	var got sendGridMailPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Message-Id", "sg-msg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	id, err := newTestSendGrid(srv.URL).Send(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "sg-msg-1", id)
	assert.Equal(t, "Bearer SG.key", auth)

	assert.Equal(t, "Netflix renews in 3 days", got.Subject)
	require.Len(t, got.Content, 2)
	assert.Equal(t, "text/plain", got.Content[0].Type)
	assert.Equal(t, "text/html", got.Content[1].Type)
	assert.Equal(t, "ada@example.com", got.Personalizations[0].To[0].Email)
	assert.Equal(t, "run_1/send-reminder-3:2026-06-08", got.CustomArgs["reference_id"])
}

func TestSendGrid_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   types.ErrorCode
	}{
		{"blocked", http.StatusForbidden, `{"errors":[{"message":"suppressed"}]}`, types.ErrCodeEmailBlocked},
		{"bad recipient", http.StatusBadRequest, `{"errors":[{"message":"invalid email","field":"personalizations.0.to.0.email"}]}`, types.ErrCodeEmailInvalidRecipient},
		{"bad request other field", http.StatusBadRequest, `{"errors":[{"message":"subject required","field":"subject"}]}`, types.ErrCodeUpstreamEmailProvider},
		{"unauthorized", http.StatusUnauthorized, `not json`, types.ErrCodeUpstreamEmailProvider},
		{"server error", http.StatusInternalServerError, ``, types.ErrCodeUpstreamUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, types.ErrCodeUpstreamRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestSendGrid(srv.URL).Send(context.Background(), sampleInput())
			require.Error(t, err)
			assert.True(t, types.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestBuildSendGridPayload_OmitsEmptyParts(t *testing.T) {
	in := sampleInput()
	in.BodyHTML = ""
	in.ReferenceID = ""

	p := buildSendGridPayload(in)
	require.Len(t, p.Content, 1)
	assert.Equal(t, "text/plain", p.Content[0].Type)
	assert.Nil(t, p.CustomArgs)
}
