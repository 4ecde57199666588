package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"opsdesk/api/internal/quote"
)

// QuoteEmail is the data rendered into the quote email.
type QuoteEmail struct {
	CompanyName  string
	CustomerName string
	Title        string
	QuoteNumber  string
	TotalDisplay string
	ExpiresAt    *time.Time
	DirectLink   string
	PortalLink   string
}

// InvoiceEmail is the data rendered into the invoice email.
type InvoiceEmail struct {
	CompanyName   string
	CustomerName  string
	Title         string
	InvoiceNumber string
	Total         float64
	AmountDue     float64
	DueDate       *time.Time
	PortalLink    string
}

// QuoteLink is the tokenized public link for a quote.
func QuoteLink(siteURL, token string) string {
	return strings.TrimRight(siteURL, "/") + "/portal/quote.html?token=" + token
}

// PortalLink is the customer portal sign-in page.
func PortalLink(siteURL string) string {
	return strings.TrimRight(siteURL, "/") + "/portal/login.html"
}

func QuoteSubject(number, title string) string {
	return fmt.Sprintf("Quote #%s: %s", number, title)
}

func InvoiceSubject(number, title string) string {
	return fmt.Sprintf("Invoice #%s: %s", number, title)
}

func RenderQuoteEmail(data QuoteEmail) (string, error) {
	return render(quoteTemplate, data)
}

func RenderInvoiceEmail(data InvoiceEmail) (string, error) {
	return render(invoiceTemplate, data)
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("January 2, 2006")
}

var funcs = template.FuncMap{
	"firstName": firstName,
	"date":      formatDate,
	"currency":  quote.FormatCurrency,
}

var quoteTemplate = template.Must(template.New("quote-email").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: 'Segoe UI', Arial, sans-serif; line-height: 1.6; color: #475569; max-width: 600px; margin: 0 auto; }
        .header { background: #6366f1; padding: 30px; text-align: center; color: white; }
        .card { background: white; border: 1px solid #e2e8f0; border-radius: 8px; padding: 20px; margin: 20px 0; }
        .button { display: inline-block; padding: 15px 30px; background: #6366f1; color: white; text-decoration: none; border-radius: 8px; font-weight: 600; }
        .link { word-break: break-all; font-family: monospace; font-size: 13px; }
        .footer { padding: 20px; text-align: center; background: #1e293b; color: #94a3b8; font-size: 12px; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.CompanyName}}</h1></div>

    <h2>Hi {{firstName .CustomerName}},</h2>
    <p>Thank you for your interest in our services! We've prepared a quote for your project:</p>

    <div class="card">
        <h3>{{.Title}}</h3>
        <p><strong>Quote #:</strong> {{.QuoteNumber}}</p>
        <p><strong>Total:</strong> {{.TotalDisplay}}</p>
        {{- if .ExpiresAt}}
        <p>Valid until: {{date .ExpiresAt}}</p>
        {{- end}}
    </div>

    <p>Click the button below to view the full details and accept your quote:</p>
    <p style="text-align: center;"><a href="{{.DirectLink}}" class="button">View Quote</a></p>

    <p>If the button doesn't work, copy and paste this link into your browser:</p>
    <p class="link">{{.DirectLink}}</p>
    <p>This link is unique to your quote and doesn't require a login.</p>

    <p>Want to view all your quotes, invoices, and upload files? <a href="{{.PortalLink}}">Access your Customer Portal</a></p>

    <div class="footer"><p>{{.CompanyName}}</p></div>
</body>
</html>`))

var invoiceTemplate = template.Must(template.New("invoice-email").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: 'Segoe UI', Arial, sans-serif; line-height: 1.6; color: #475569; max-width: 600px; margin: 0 auto; }
        .header { background: #6366f1; padding: 30px; text-align: center; color: white; }
        .card { background: white; border: 1px solid #e2e8f0; border-radius: 8px; padding: 20px; margin: 20px 0; }
        .due { color: #ef4444; font-size: 18px; font-weight: bold; }
        .button { display: inline-block; padding: 15px 30px; background: #6366f1; color: white; text-decoration: none; border-radius: 8px; font-weight: 600; }
        .footer { padding: 20px; text-align: center; background: #1e293b; color: #94a3b8; font-size: 12px; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.CompanyName}}</h1></div>

    <h2>Hi {{firstName .CustomerName}},</h2>

    <div class="card">
        <h3>{{.Title}}</h3>
        <p><strong>Invoice #:</strong> {{.InvoiceNumber}}</p>
        <p><strong>Total:</strong> {{currency .Total}}</p>
        <p><strong>Amount Due:</strong> <span class="due">{{currency .AmountDue}}</span></p>
        {{- if .DueDate}}
        <p>Due: {{date .DueDate}}</p>
        {{- end}}
    </div>

    <p>To view the full invoice and make a payment, visit your customer portal:</p>
    <p style="text-align: center;"><a href="{{.PortalLink}}" class="button">View Invoice &amp; Pay</a></p>
    <p>You'll be asked to enter your email address to access your portal.</p>

    <div class="footer"><p>{{.CompanyName}}</p></div>
</body>
</html>`))
