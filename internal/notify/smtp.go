package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"opsdesk/api/internal/util"
)

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

// SMTP sends through a plain SMTP relay.
type SMTP struct {
	config   SMTPConfig
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(config SMTPConfig) *SMTP {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTP{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTP) Name() string { return "smtp" }

// IsConfigured returns true if a relay is configured
func (s *SMTP) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != ""
}

func (s *SMTP) Send(ctx context.Context, msg Message) (Receipt, error) {
	if !s.IsConfigured() {
		return Receipt{}, &DeliveryError{Provider: s.Name(), Err: errors.New("smtp not configured")}
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, &DeliveryError{Provider: s.Name(), Err: err}
	}

	messageID := fmt.Sprintf("<%s@%s>", util.RandomHex(16), s.config.Host)
	raw := buildMIMEMessage(msg, messageID)
	if err := s.sendMail(s.server, s.auth, msg.From, []string{msg.To}, raw); err != nil {
		return Receipt{}, &DeliveryError{Provider: s.Name(), Err: err}
	}
	return Receipt{Provider: s.Name(), MessageID: messageID}, nil
}

// headerValue drops line breaks so a value cannot start a new header.
var headerValue = strings.NewReplacer("\r", "", "\n", "")

func buildMIMEMessage(msg Message, messageID string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", headerValue.Replace(msg.To))
	fmt.Fprintf(&buf, "From: %s\r\n", headerValue.Replace(msg.fromHeader()))
	fmt.Fprintf(&buf, "Subject: %s\r\n", headerValue.Replace(msg.Subject))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		fmt.Fprintf(&buf, "%s\r\n", msg.Text)
		return buf.Bytes()
	}

	boundary := "opsdesk-" + util.RandomHex(8)
	text := msg.Text
	if text == "" {
		text = "Please view this email in an HTML-capable email client."
	}
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", text)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", msg.HTML)
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}
