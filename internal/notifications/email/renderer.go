package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"subtrack/internal/types"
)

//go:embed templates/reminder.html templates/reminder.txt
var templateFS embed.FS

// RenderedEmail is the pre-rendered content handed to a provider.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// ReminderData is what the reminder templates see.
type ReminderData struct {
	Subject          string
	OwnerName        string
	SubscriptionName string
	When             string
	RenewalDate      string
	Price            string
	Frequency        string
	PaymentMethod    string
	DaysRemaining    int
	AccountURL       string
	SupportURL       string
}

// RendererConfig holds the links embedded in every reminder.
type RendererConfig struct {
	AccountURL string
	SupportURL string
}

// Renderer produces reminder emails from the embedded templates.
type Renderer struct {
	html *template.Template
	text *texttemplate.Template
	cfg  RendererConfig
}

// NewRenderer parses the embedded templates.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	html, err := template.ParseFS(templateFS, "templates/reminder.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: parse html: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/reminder.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: parse text: %w", err)
	}
	return &Renderer{html: html, text: text, cfg: cfg}, nil
}

// RenderReminder renders the reminder for sub sent daysBefore its renewal.
func (r *Renderer) RenderReminder(sub *types.Subscription, daysBefore int) (*RenderedEmail, error) {
	if sub == nil {
		return nil, fmt.Errorf("renderer: subscription is nil")
	}
	data := r.reminderData(sub, daysBefore)

	var html, text bytes.Buffer
	if err := r.html.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("renderer: execute html: %w", err)
	}
	if err := r.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("renderer: execute text: %w", err)
	}
	return &RenderedEmail{Subject: data.Subject, BodyHTML: html.String(), BodyText: text.String()}, nil
}

func (r *Renderer) reminderData(sub *types.Subscription, daysBefore int) ReminderData {
	when := renewsIn(daysBefore)
	owner := sub.Owner.Name
	if owner == "" {
		owner = "there"
	}
	return ReminderData{
		Subject:          fmt.Sprintf("%s renews %s", sub.Name, when),
		OwnerName:        owner,
		SubscriptionName: sub.Name,
		When:             when,
		RenewalDate:      sub.RenewalDate.UTC().Format("Monday, January 2, 2006"),
		Price:            formatPrice(sub.Price, sub.Currency),
		Frequency:        frequencyUnit(sub.Frequency),
		PaymentMethod:    sub.PaymentMethod,
		DaysRemaining:    daysBefore,
		AccountURL:       r.cfg.AccountURL,
		SupportURL:       r.cfg.SupportURL,
	}
}

func renewsIn(days int) string {
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}

func formatPrice(price float64, currency string) string {
	return fmt.Sprintf("%.2f %s", price, strings.ToUpper(currency))
}

func frequencyUnit(f types.BillingFrequency) string {
	switch f {
	case types.FrequencyYearly:
		return "year"
	case types.FrequencyMonthly:
		return "month"
	default:
		return string(f)
	}
}
