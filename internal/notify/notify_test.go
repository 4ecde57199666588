package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"opsdesk/api/internal/config"
	"opsdesk/api/internal/store"
)

type fakeLogStore struct {
	entries []store.EmailLog
	err     error
}

func (f *fakeLogStore) InsertEmailLog(ctx context.Context, entry store.EmailLog) error {
	f.entries = append(f.entries, entry)
	return f.err
}

type stubProvider struct {
	name    string
	receipt Receipt
	err     error
	sent    []Message
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	s.sent = append(s.sent, msg)
	return s.receipt, s.err
}

func TestResendSend(t *testing.T) {
	var got resendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer re_test" {
			t.Errorf("missing bearer key, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer server.Close()

	provider := NewResend("re_test", server.URL, server.Client())
	receipt, err := provider.Send(context.Background(), Message{
		To: "dana@example.com", From: "office@example.com", FromName: "Acme Builders",
		Subject: "Quote #7: Deck", HTML: "<p>hi</p>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID != "email_123" || receipt.Provider != "resend" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if got.From != "Acme Builders <office@example.com>" || len(got.To) != 1 || got.To[0] != "dana@example.com" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.HTML != "<p>hi</p>" || got.Text != "" {
		t.Fatalf("unexpected content html=%q text=%q", got.HTML, got.Text)
	}
}

func TestResendFailureIsDeliveryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer server.Close()

	_, err := NewResend("re_test", server.URL, server.Client()).Send(context.Background(), Message{To: "x@example.com"})
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if deliveryErr.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(deliveryErr.Details, "invalid from") {
		t.Fatalf("unexpected delivery error %+v", deliveryErr)
	}
}

func TestSendGridSend(t *testing.T) {
	var got sendGridRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("X-Message-Id", "sg-abc")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	receipt, err := NewSendGrid("sg_test", server.URL, server.Client()).Send(context.Background(), Message{
		To: "lee@example.com", From: "office@example.com", FromName: "Acme", Subject: "Hello", Text: "plain", HTML: "<b>rich</b>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID != "sg-abc" {
		t.Fatalf("message id = %q", receipt.MessageID)
	}
	if len(got.Personalizations) != 1 || got.Personalizations[0].To[0].Email != "lee@example.com" {
		t.Fatalf("unexpected personalizations %+v", got.Personalizations)
	}
	if len(got.Content) != 2 || got.Content[0].Type != "text/plain" || got.Content[1].Type != "text/html" {
		t.Fatalf("unexpected content order %+v", got.Content)
	}
}

func TestSendGridUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewSendGrid("sg_test", url, &http.Client{Timeout: time.Second}).Send(context.Background(), Message{To: "x@example.com", Text: "x"})
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) || deliveryErr.Err == nil {
		t.Fatalf("expected transport DeliveryError, got %v", err)
	}
}

func TestSMTPSend(t *testing.T) {
	provider := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: "587", Username: "user", Password: "pass"})

	var addr string
	var recipients []string
	var raw string
	provider.sendMail = func(a string, auth smtp.Auth, from string, to []string, msg []byte) error {
		addr, recipients, raw = a, to, string(msg)
		return nil
	}

	receipt, err := provider.Send(context.Background(), Message{
		To: "dana@example.com", From: "office@example.com", FromName: "Acme", Subject: "Invoice #9: Deck", HTML: "<p>due</p>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if addr != "smtp.example.com:587" || len(recipients) != 1 || recipients[0] != "dana@example.com" {
		t.Fatalf("unexpected envelope addr=%s to=%v", addr, recipients)
	}
	for _, want := range []string{"From: Acme <office@example.com>", "Subject: Invoice #9: Deck", "multipart/alternative", "<p>due</p>", "Message-ID: " + receipt.MessageID} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestSMTPHeadersCannotBeInjected(t *testing.T) {
	provider := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: "587"})
	var raw string
	provider.sendMail = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		raw = string(msg)
		return nil
	}

	_, err := provider.Send(context.Background(), Message{
		To:       "dana@example.com",
		From:     "office@example.com",
		FromName: "Acme\r\nReply-To: evil@example.com",
		Subject:  "Your quote\r\nBcc: everyone@example.com",
		Text:     "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	header := raw[:strings.Index(raw, "\r\n\r\n")]
	for _, line := range strings.Split(header, "\r\n") {
		if strings.HasPrefix(line, "Bcc:") || strings.HasPrefix(line, "Reply-To:") {
			t.Fatalf("injected header %q in:\n%s", line, header)
		}
	}
	if !strings.Contains(header, "Subject: Your quoteBcc: everyone@example.com") {
		t.Fatalf("subject not flattened:\n%s", header)
	}
}

func TestSMTPNotConfigured(t *testing.T) {
	_, err := NewSMTP(SMTPConfig{}).Send(context.Background(), Message{To: "x@example.com"})
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
}

func TestLogProviderNeverFails(t *testing.T) {
	var lines []string
	provider := &LogProvider{logf: func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}}
	receipt, err := provider.Send(context.Background(), Message{To: "x@example.com", Subject: "Hi", Text: "body text"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.Provider != "log" {
		t.Fatalf("provider = %q", receipt.Provider)
	}
	if !strings.Contains(strings.Join(lines, "\n"), "body text") {
		t.Fatalf("body not logged: %v", lines)
	}
}

func TestDispatcherRecordsEveryAttempt(t *testing.T) {
	cases := []struct {
		name       string
		provider   *stubProvider
		wantStatus string
		wantErr    bool
	}{
		{name: "sent", provider: &stubProvider{name: "resend", receipt: Receipt{Provider: "resend", MessageID: "m1"}}, wantStatus: StatusSent},
		{name: "logged", provider: &stubProvider{name: "log", receipt: Receipt{Provider: "log"}}, wantStatus: StatusLogged},
		{name: "failed", provider: &stubProvider{name: "sendgrid", err: errors.New("boom")}, wantStatus: StatusFailed, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logs := &fakeLogStore{}
			dispatcher := NewDispatcher(tc.provider, logs, "noreply@example.com", "Acme")

			_, err := dispatcher.Send(context.Background(), Message{
				To: " dana@example.com ", Subject: "Hi", Text: "Hello", TemplateID: "tpl-1", CustomerID: "c-1", DealID: "d-1", SentBy: "staff-1",
			})
			if tc.wantErr {
				var deliveryErr *DeliveryError
				if !errors.As(err, &deliveryErr) {
					t.Fatalf("expected DeliveryError, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("Send: %v", err)
			}

			if len(logs.entries) != 1 {
				t.Fatalf("expected 1 log entry, got %d", len(logs.entries))
			}
			entry := logs.entries[0]
			if entry.Status != tc.wantStatus || entry.Provider != tc.provider.name {
				t.Fatalf("unexpected entry %+v", entry)
			}
			if entry.ToEmail != "dana@example.com" || entry.TemplateID != "tpl-1" || entry.CustomerID != "c-1" || entry.DealID != "d-1" || entry.SentBy != "staff-1" {
				t.Fatalf("linkage not recorded: %+v", entry)
			}
			if tc.wantErr && entry.Error == "" {
				t.Fatal("failed attempt should record the error")
			}

			sent := tc.provider.sent[0]
			if sent.From != "noreply@example.com" || sent.FromName != "Acme" {
				t.Fatalf("default sender not applied: %+v", sent)
			}
		})
	}
}

func TestDispatcherIgnoresLogFailure(t *testing.T) {
	logs := &fakeLogStore{err: errors.New("db down")}
	dispatcher := NewDispatcher(&stubProvider{name: "resend", receipt: Receipt{MessageID: "m2"}}, logs, "a@example.com", "")
	receipt, err := dispatcher.Send(context.Background(), Message{To: "b@example.com", Subject: "s", Text: "t"})
	if err != nil {
		t.Fatalf("log failure must not fail the send: %v", err)
	}
	if receipt.MessageID != "m2" {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestNewProviderFollowsConfig(t *testing.T) {
	cases := []struct {
		cfg  config.Config
		want string
	}{
		{cfg: config.Config{}, want: "log"},
		{cfg: config.Config{ResendAPIKey: "re"}, want: "resend"},
		{cfg: config.Config{SendGridAPIKey: "sg"}, want: "sendgrid"},
		{cfg: config.Config{SMTPHost: "smtp.example.com", SMTPPort: "25"}, want: "smtp"},
		{cfg: config.Config{EmailProviderName: "log", ResendAPIKey: "re"}, want: "log"},
	}
	for _, tc := range cases {
		if got := NewProvider(tc.cfg).Name(); got != tc.want {
			t.Fatalf("NewProvider(%+v) = %s, want %s", tc.cfg, got, tc.want)
		}
	}
}

func TestRenderQuoteEmail(t *testing.T) {
	expires := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)
	html, err := RenderQuoteEmail(QuoteEmail{
		CompanyName:  "Acme Builders",
		CustomerName: "Dana Reyes",
		Title:        "Deck <rebuild>",
		QuoteNumber:  "1042",
		TotalDisplay: "$1,000.00 - $2,500.00",
		ExpiresAt:    &expires,
		DirectLink:   QuoteLink("https://books.example.com/", "abc123"),
		PortalLink:   PortalLink("https://books.example.com"),
	})
	if err != nil {
		t.Fatalf("RenderQuoteEmail: %v", err)
	}
	for _, want := range []string{
		"Hi Dana,",
		"Quote #:</strong> 1042",
		"$1,000.00 - $2,500.00",
		"Valid until: July 4, 2026",
		"https://books.example.com/portal/quote.html?token=abc123",
		"https://books.example.com/portal/login.html",
		"Deck &lt;rebuild&gt;",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("quote email missing %q", want)
		}
	}
}

func TestRenderInvoiceEmail(t *testing.T) {
	html, err := RenderInvoiceEmail(InvoiceEmail{
		CompanyName:   "Acme Builders",
		CustomerName:  "",
		Title:         "Deck",
		InvoiceNumber: "88",
		Total:         2500,
		AmountDue:     1250.5,
		PortalLink:    PortalLink("https://books.example.com"),
	})
	if err != nil {
		t.Fatalf("RenderInvoiceEmail: %v", err)
	}
	for _, want := range []string{"Hi there,", "$2,500.00", "$1,250.50", "/portal/login.html"} {
		if !strings.Contains(html, want) {
			t.Fatalf("invoice email missing %q", want)
		}
	}
	if strings.Contains(html, "<p>Due:") {
		t.Fatal("due date line should be omitted without a due date")
	}
	if InvoiceSubject("88", "Deck") != "Invoice #88: Deck" || QuoteSubject("7", "Roof") != "Quote #7: Roof" {
		t.Fatal("unexpected subject format")
	}
}
