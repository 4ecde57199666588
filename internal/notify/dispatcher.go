package notify

import (
	"context"
	"errors"
	"log"
	"strings"

	"opsdesk/api/internal/store"
)

// Email log statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
	StatusLogged = "logged"
)

// EmailLogStore records delivery attempts.
type EmailLogStore interface {
	InsertEmailLog(ctx context.Context, entry store.EmailLog) error
}

// Dispatcher sends through one provider and appends an email log row for
// every attempt, successful or not.
type Dispatcher struct {
	provider Provider
	logs     EmailLogStore
	from     string
	fromName string
}

func NewDispatcher(provider Provider, logs EmailLogStore, from, fromName string) *Dispatcher {
	return &Dispatcher{provider: provider, logs: logs, from: from, fromName: fromName}
}

// ProviderName is the name of the configured provider.
func (d *Dispatcher) ProviderName() string {
	return d.provider.Name()
}

// Send delivers msg once. Provider failures come back as *DeliveryError; a
// failure to write the email log is logged and never returned.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.From == "" {
		msg.From = d.from
	}
	if msg.FromName == "" {
		msg.FromName = d.fromName
	}
	msg.To = strings.TrimSpace(msg.To)

	receipt, err := d.provider.Send(ctx, msg)

	entry := store.EmailLog{
		TemplateID:    msg.TemplateID,
		CustomerID:    msg.CustomerID,
		DealID:        msg.DealID,
		AppointmentID: msg.AppointmentID,
		ToEmail:       msg.To,
		Subject:       msg.Subject,
		Body:          msg.Body(),
		Provider:      d.provider.Name(),
		SentBy:        msg.SentBy,
	}
	switch {
	case err != nil:
		entry.Status = StatusFailed
		entry.Error = err.Error()
	case d.provider.Name() == "log":
		entry.Status = StatusLogged
	default:
		entry.Status = StatusSent
		entry.ProviderMessageID = receipt.MessageID
	}

	// The log row must be written even when the request was cancelled
	// mid-send, so it gets a context detached from the caller.
	if logErr := d.logs.InsertEmailLog(context.WithoutCancel(ctx), entry); logErr != nil {
		log.Printf("notify: record email log to=%s status=%s: %v", msg.To, entry.Status, logErr)
	}

	if err != nil {
		var deliveryErr *DeliveryError
		if !errors.As(err, &deliveryErr) {
			err = &DeliveryError{Provider: d.provider.Name(), Err: err}
		}
		log.Printf("notify: delivery failed to=%s provider=%s: %v", msg.To, d.provider.Name(), err)
		return Receipt{}, err
	}
	return receipt, nil
}
