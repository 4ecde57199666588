package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"opsdesk/api/internal/auth"
	"opsdesk/api/internal/notify"
	"opsdesk/api/internal/quote"
	"opsdesk/api/internal/rbac"
	"opsdesk/api/internal/store"
)

// TemplateEmail is a free-form staff email.
type TemplateEmail struct {
	ToEmail       string `json:"to_email"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	TemplateID    string `json:"template_id"`
	CustomerID    string `json:"customer_id"`
	DealID        string `json:"deal_id"`
	AppointmentID string `json:"appointment_id"`
	SentBy        string `json:"sent_by"`
}

// sender resolves the from identity, preferring settings.company over
// process configuration.
func (s *Service) sender(ctx context.Context) (email, name string) {
	settings, err := s.store.GetCompanySettings(ctx)
	if err != nil {
		log.Printf("notify: company settings unavailable: %v", err)
	}
	email = firstNonBlank(settings.Email, s.cfg.EmailFrom)
	name = firstNonBlank(settings.Name, s.cfg.EmailFromName, s.cfg.CompanyName)
	return email, name
}

// SendQuoteEmail emails the quote link to its customer. The quote is only
// marked sent after the provider accepted the message.
func (s *Service) SendQuoteEmail(ctx context.Context, staff StaffSession, quoteID string) (map[string]any, error) {
	if err := s.authorize(staff, rbac.CapabilitySendQuotes); err != nil {
		return nil, err
	}
	if strings.TrimSpace(quoteID) == "" {
		return nil, validationError("Quote ID required", nil)
	}
	q, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Quote not found")
		}
		return nil, fmt.Errorf("load quote: %w", err)
	}
	if strings.TrimSpace(q.CustomerEmail) == "" {
		return nil, validationError("Customer email not found", nil)
	}

	token := q.AccessToken
	if token == "" {
		candidate, err := auth.NewAccessToken()
		if err != nil {
			return nil, err
		}
		if token, err = s.store.EnsureQuoteAccessToken(ctx, q.ID, candidate); err != nil {
			return nil, err
		}
	}

	fromEmail, fromName := s.sender(ctx)
	html, err := notify.RenderQuoteEmail(notify.QuoteEmail{
		CompanyName:  fromName,
		CustomerName: q.CustomerName,
		Title:        q.Title,
		QuoteNumber:  q.QuoteNumber,
		TotalDisplay: quote.TotalDisplay(q.QuoteType, q.Total, q.TotalLow, q.TotalHigh),
		ExpiresAt:    q.ExpiresAt,
		DirectLink:   notify.QuoteLink(s.cfg.SiteURL, token),
		PortalLink:   notify.PortalLink(s.cfg.SiteURL),
	})
	if err != nil {
		return nil, err
	}

	receipt, err := s.mailer.Send(ctx, notify.Message{
		To:         q.CustomerEmail,
		From:       fromEmail,
		FromName:   fromName,
		Subject:    notify.QuoteSubject(q.QuoteNumber, q.Title),
		HTML:       html,
		TemplateID: "quote",
		CustomerID: q.CustomerID,
		SentBy:     staff.UserID,
	})
	if err != nil {
		return nil, deliveryFailure(err)
	}

	status, err := s.store.MarkQuoteSent(ctx, q.ID, s.clock())
	if err != nil {
		return nil, err
	}
	log.Printf("notify: quote %s sent to customer %s, status %s", q.QuoteNumber, q.CustomerID, status)
	return map[string]any{"success": true, "emailId": receipt.MessageID}, nil
}

func (s *Service) SendInvoiceEmail(ctx context.Context, staff StaffSession, invoiceID string) (map[string]any, error) {
	if err := s.authorize(staff, rbac.CapabilitySendInvoices); err != nil {
		return nil, err
	}
	if strings.TrimSpace(invoiceID) == "" {
		return nil, validationError("Invoice ID required", nil)
	}
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Invoice not found")
		}
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if strings.TrimSpace(inv.CustomerEmail) == "" {
		return nil, validationError("Customer email not found", nil)
	}

	fromEmail, fromName := s.sender(ctx)
	html, err := notify.RenderInvoiceEmail(notify.InvoiceEmail{
		CompanyName:   fromName,
		CustomerName:  inv.CustomerName,
		Title:         inv.Title,
		InvoiceNumber: inv.InvoiceNumber,
		Total:         inv.Total,
		AmountDue:     inv.AmountDue,
		DueDate:       inv.DueDate,
		PortalLink:    notify.PortalLink(s.cfg.SiteURL),
	})
	if err != nil {
		return nil, err
	}

	receipt, err := s.mailer.Send(ctx, notify.Message{
		To:         inv.CustomerEmail,
		From:       fromEmail,
		FromName:   fromName,
		Subject:    notify.InvoiceSubject(inv.InvoiceNumber, inv.Title),
		HTML:       html,
		TemplateID: "invoice",
		CustomerID: inv.CustomerID,
		SentBy:     staff.UserID,
	})
	if err != nil {
		return nil, deliveryFailure(err)
	}

	if _, err := s.store.MarkInvoiceSent(ctx, inv.ID, s.clock()); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "emailId": receipt.MessageID}, nil
}

// SendTemplateEmail sends a plain-text staff email. With the log provider
// the message is only logged, and still recorded.
func (s *Service) SendTemplateEmail(ctx context.Context, staff StaffSession, req TemplateEmail) (map[string]any, error) {
	if err := s.authorize(staff, rbac.CapabilitySendEmail); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ToEmail) == "" || strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		return nil, validationError("Missing required fields: to_email, subject, body", nil)
	}

	fromEmail, fromName := s.sender(ctx)
	if _, err := s.mailer.Send(ctx, notify.Message{
		To:            req.ToEmail,
		From:          fromEmail,
		FromName:      fromName,
		Subject:       req.Subject,
		Text:          req.Body,
		TemplateID:    req.TemplateID,
		CustomerID:    req.CustomerID,
		DealID:        req.DealID,
		AppointmentID: req.AppointmentID,
		SentBy:        firstNonBlank(req.SentBy, staff.UserID),
	}); err != nil {
		return nil, deliveryFailure(err)
	}
	return map[string]any{"success": true, "message": "Email sent successfully"}, nil
}

func deliveryFailure(err error) error {
	var deliveryErr *notify.DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.Details != "" {
		return deliveryError("Failed to send email", deliveryErr.Details)
	}
	return deliveryError("Failed to send email", err.Error())
}
