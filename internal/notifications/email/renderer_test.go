package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/types"
)

func testSub() *types.Subscription {
	return &types.Subscription{
		ID:            "sub_1",
		Name:          "Netflix",
		Price:         15.49,
		Currency:      "usd",
		Frequency:     types.FrequencyMonthly,
		PaymentMethod: "Visa 4242",
		Status:        types.SubscriptionActive,
		RenewalDate:   time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
		Owner:         types.SubscriptionOwner{ID: "user_1", Name: "Ada", Email: "ada@example.com"},
	}
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(RendererConfig{AccountURL: "https://app.subtrack.test/settings", SupportURL: "https://subtrack.test/support"})
	require.NoError(t, err)
	return r
}

func TestRenderReminder_Content(t *testing.T) {
	out, err := newTestRenderer(t).RenderReminder(testSub(), 3)
	require.NoError(t, err)

	assert.Equal(t, "Netflix renews in 3 days", out.Subject)
	for _, body := range []string{out.BodyHTML, out.BodyText} {
		assert.Contains(t, body, "Hi Ada")
		assert.Contains(t, body, "Monday, June 8, 2026")
		assert.Contains(t, body, "15.49 USD")
		assert.Contains(t, body, "month")
		assert.Contains(t, body, "Visa 4242")
		assert.Contains(t, body, "https://app.subtrack.test/settings")
		assert.Contains(t, body, "https://subtrack.test/support")
	}
}

func TestRenderReminder_SubjectVariesWithOffset(t *testing.T) {
	r := newTestRenderer(t)
	tests := []struct {
		days int
		want string
	}{
		{7, "Netflix renews in 7 days"},
		{1, "Netflix renews tomorrow"},
		{0, "Netflix renews today"},
	}
	for _, tt := range tests {
		out, err := r.RenderReminder(testSub(), tt.days)
		require.NoError(t, err)
		assert.Equal(t, tt.want, out.Subject)
	}
}

func TestRenderReminder_OptionalFields(t *testing.T) {
	sub := testSub()
	sub.PaymentMethod = ""
	sub.Frequency = types.FrequencyYearly
	sub.Owner.Name = ""

	r, err := NewRenderer(RendererConfig{})
	require.NoError(t, err)
	out, err := r.RenderReminder(sub, 7)
	require.NoError(t, err)

	assert.Contains(t, out.BodyText, "Hi there")
	assert.Contains(t, out.BodyText, "/ year")
	assert.NotContains(t, out.BodyText, "Payment method")
	assert.NotContains(t, out.BodyText, "Manage subscription")
	assert.NotContains(t, out.BodyHTML, "Contact support")
}

func TestRenderReminder_EscapesHTML(t *testing.T) {
	sub := testSub()
	sub.Name = "<script>alert(1)</script>"

	out, err := newTestRenderer(t).RenderReminder(sub, 3)
	require.NoError(t, err)
	assert.NotContains(t, out.BodyHTML, "<script>")
}

func TestRenderReminder_NilSubscription(t *testing.T) {
	_, err := newTestRenderer(t).RenderReminder(nil, 3)
	assert.Error(t, err)
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "j***@gmail.com", RedactEmail("john@gmail.com"))
	assert.Equal(t, "***@x.io", RedactEmail("@x.io"))
	assert.Equal(t, "***", RedactEmail("not-an-email"))
	assert.Equal(t, "", RedactEmail(""))
}
