// Package notify delivers transactional email through exactly one configured
// provider and records every attempt in the email log.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"opsdesk/api/internal/config"
)

// Message is one outbound email plus the records it should be linked to in
// the email log.
type Message struct {
	To       string
	From     string
	FromName string
	Subject  string
	HTML     string
	Text     string

	TemplateID    string
	CustomerID    string
	DealID        string
	AppointmentID string
	SentBy        string
}

// Body returns the content recorded in the email log.
func (m Message) Body() string {
	if m.HTML != "" {
		return m.HTML
	}
	return m.Text
}

func (m Message) fromHeader() string {
	if m.FromName == "" {
		return m.From
	}
	return fmt.Sprintf("%s <%s>", m.FromName, m.From)
}

// Receipt is what a provider reports back for an accepted message.
type Receipt struct {
	Provider  string
	MessageID string
}

// Provider is one delivery strategy.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// NewProvider builds the single provider selected by cfg.EmailProvider().
func NewProvider(cfg config.Config) Provider {
	client := &http.Client{Timeout: 30 * time.Second}
	switch cfg.EmailProvider() {
	case config.ProviderResend:
		return NewResend(cfg.ResendAPIKey, cfg.ResendBaseURL, client)
	case config.ProviderSendGrid:
		return NewSendGrid(cfg.SendGridAPIKey, cfg.SendGridBaseURL, client)
	case config.ProviderSMTP:
		return NewSMTP(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
	default:
		return NewLogProvider()
	}
}

// DeliveryError is returned when the provider refused or could not be reached.
type DeliveryError struct {
	Provider   string
	StatusCode int
	Details    string
	Err        error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s delivery failed", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Details != "" {
		fmt.Fprintf(&b, ": %s", e.Details)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
