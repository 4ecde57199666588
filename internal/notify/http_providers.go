package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 2048

// Resend sends through the Resend HTTP API.
type Resend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewResend(apiKey, baseURL string, client *http.Client) *Resend {
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	return &Resend{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (r *Resend) Name() string { return "resend" }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

func (r *Resend) Send(ctx context.Context, msg Message) (Receipt, error) {
	payload := resendRequest{
		From:    msg.fromHeader(),
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}
	resp, body, err := postJSON(ctx, r.client, r.baseURL+"/emails", r.apiKey, payload)
	if err != nil {
		return Receipt{}, &DeliveryError{Provider: r.Name(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, &DeliveryError{Provider: r.Name(), StatusCode: resp.StatusCode, Details: truncate(string(body))}
	}

	var parsed resendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Receipt{}, &DeliveryError{Provider: r.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return Receipt{Provider: r.Name(), MessageID: parsed.ID}, nil
}

// SendGrid sends through the SendGrid v3 mail API.
type SendGrid struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSendGrid(apiKey, baseURL string, client *http.Client) *SendGrid {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	return &SendGrid{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *SendGrid) Name() string { return "sendgrid" }

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendGridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendGridContent `json:"content"`
}

func (s *SendGrid) Send(ctx context.Context, msg Message) (Receipt, error) {
	var payload sendGridRequest
	payload.Personalizations = make([]struct {
		To []sendGridAddress `json:"to"`
	}, 1)
	payload.Personalizations[0].To = []sendGridAddress{{Email: msg.To}}
	payload.From = sendGridAddress{Email: msg.From, Name: msg.FromName}
	payload.Subject = msg.Subject
	// SendGrid requires text/plain before text/html when both are present.
	if msg.Text != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/html", Value: msg.HTML})
	}

	resp, body, err := postJSON(ctx, s.client, s.baseURL+"/v3/mail/send", s.apiKey, payload)
	if err != nil {
		return Receipt{}, &DeliveryError{Provider: s.Name(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, &DeliveryError{Provider: s.Name(), StatusCode: resp.StatusCode, Details: truncate(string(body))}
	}
	return Receipt{Provider: s.Name(), MessageID: resp.Header.Get("X-Message-Id")}, nil
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload any) (*http.Response, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
