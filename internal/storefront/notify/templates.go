package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// Template identifies a transactional email.
type Template string

const (
	TemplatePurchaseConfirmation Template = "purchase_confirmation"
	TemplateTrainingCancellation Template = "training_cancellation"
	TemplateContactReceipt       Template = "contact_receipt"
	TemplateContactStaff         Template = "contact_staff"
	TemplateNewsletterWelcome    Template = "newsletter_welcome"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 560px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: left;">
<h1 style="margin: 0 0 16px; font-size: 22px; color: #1a1a1a;">{{.Title}}</h1>
{{template "body" .Data}}
<p style="margin: 24px 0 0; color: #999; font-size: 13px;">{{.SiteName}}</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

var bodies = map[Template]string{
	TemplatePurchaseConfirmation: `{{define "body"}}
<p style="color: #444; font-size: 15px; line-height: 1.5;">Hi {{.OrganizationName}}, thank you for your purchase.</p>
<table style="width: 100%; border-collapse: collapse; font-size: 14px; color: #333;">
<tr><th style="text-align: left; border-bottom: 1px solid #eee; padding: 6px 0;">Item</th><th style="text-align: right; border-bottom: 1px solid #eee;">Qty</th><th style="text-align: right; border-bottom: 1px solid #eee;">Total</th></tr>
{{range .Lines}}<tr><td style="padding: 6px 0;">{{.Title}}</td><td style="text-align: right;">{{.Quantity}}</td><td style="text-align: right;">{{.LineTotal}}</td></tr>
{{end}}<tr><td colspan="2" style="padding: 8px 0; font-weight: 600;">Total</td><td style="text-align: right; font-weight: 600;">{{.Currency}} {{.Amount}}</td></tr>
</table>
<p style="color: #666; font-size: 13px;">Reference: {{.ClientReference}} &middot; Status: {{.Status}}</p>
{{if .TemporaryPassword}}<p style="color: #444; font-size: 15px; line-height: 1.5;">Sign in with <strong>{{.LoginEmail}}</strong> and the temporary password <code>{{.TemporaryPassword}}</code>. You will be asked to change it on first sign-in.</p>{{end}}
{{end}}`,
	TemplateTrainingCancellation: `{{define "body"}}
<p style="color: #444; font-size: 15px; line-height: 1.5;">Hi {{.Name}}, your registration for <strong>{{.TrainingTitle}}</strong> has been cancelled.</p>
{{if .Reason}}<p style="color: #666; font-size: 14px;">Reason: {{.Reason}}</p>{{end}}
{{end}}`,
	TemplateContactReceipt: `{{define "body"}}
<p style="color: #444; font-size: 15px; line-height: 1.5;">Hi {{.Name}}, we received your message{{if .Subject}} about "{{.Subject}}"{{end}} and will get back to you shortly.</p>
<blockquote style="color: #666; font-size: 14px; border-left: 3px solid #eee; margin: 0; padding-left: 12px;">{{.Message}}</blockquote>
{{end}}`,
	TemplateContactStaff: `{{define "body"}}
<p style="color: #444; font-size: 15px;">New contact form submission.</p>
<p style="color: #444; font-size: 14px;">From: {{.Name}} &lt;{{.Email}}&gt;{{if .Phone}} &middot; {{.Phone}}{{end}}</p>
{{if .Subject}}<p style="color: #444; font-size: 14px;">Subject: {{.Subject}}</p>{{end}}
<blockquote style="color: #666; font-size: 14px; border-left: 3px solid #eee; margin: 0; padding-left: 12px;">{{.Message}}</blockquote>
{{end}}`,
	TemplateNewsletterWelcome: `{{define "body"}}
<p style="color: #444; font-size: 15px; line-height: 1.5;">Thanks for subscribing to our newsletter.</p>
{{if .UnsubscribeURL}}<p style="color: #999; font-size: 13px;">Changed your mind? <a href="{{.UnsubscribeURL}}">Unsubscribe</a>.</p>{{end}}
{{end}}`,
}

var compiled = func() map[Template]*template.Template {
	out := make(map[Template]*template.Template, len(bodies))
	for name, body := range bodies {
		out[name] = template.Must(template.Must(layout.Clone()).Parse(body))
	}
	return out
}()

// ConfirmationLine is one rendered line item.
type ConfirmationLine struct {
	Title     string
	Quantity  int
	LineTotal string
}

// PurchaseConfirmationData holds template data for the purchase confirmation.
type PurchaseConfirmationData struct {
	OrganizationName  string
	PurchaseID        string
	ClientReference   string
	Status            string
	Currency          string
	Amount            string
	Lines             []ConfirmationLine
	LoginEmail        string
	TemporaryPassword string
}

// TrainingCancellationData holds template data for a cancelled registration.
type TrainingCancellationData struct {
	Name          string
	TrainingTitle string
	Reason        string
}

// ContactData holds template data for both contact emails.
type ContactData struct {
	Name    string
	Email   string
	Phone   string
	Subject string
	Message string
}

// NewsletterWelcomeData holds template data for the welcome email.
type NewsletterWelcomeData struct {
	UnsubscribeURL string
}

// Render renders a template to subject, html and text bodies.
func Render(name Template, siteName string, data any) (subject, html, text string, err error) {
	tmpl, ok := compiled[name]
	if !ok {
		return "", "", "", fmt.Errorf("unknown email template %q", name)
	}

	switch d := data.(type) {
	case PurchaseConfirmationData:
		subject = fmt.Sprintf("Your purchase %s", d.ClientReference)
		text = purchaseConfirmationText(d)
	case TrainingCancellationData:
		subject = fmt.Sprintf("Registration cancelled: %s", d.TrainingTitle)
		text = fmt.Sprintf("Hi %s,\n\nYour registration for %s has been cancelled.\n%s", d.Name, d.TrainingTitle, optionalLine("Reason: ", d.Reason))
	case ContactData:
		if name == TemplateContactStaff {
			subject = fmt.Sprintf("Contact form: %s", firstNonEmpty(d.Subject, d.Name))
			text = fmt.Sprintf("From: %s <%s> %s\nSubject: %s\n\n%s", d.Name, d.Email, d.Phone, d.Subject, d.Message)
		} else {
			subject = "We received your message"
			text = fmt.Sprintf("Hi %s,\n\nWe received your message and will get back to you shortly.\n\n> %s", d.Name, d.Message)
		}
	case NewsletterWelcomeData:
		subject = "Welcome to our newsletter"
		text = "Thanks for subscribing to our newsletter.\n" + optionalLine("Unsubscribe: ", d.UnsubscribeURL)
	default:
		return "", "", "", fmt.Errorf("template %q: unsupported data %T", name, data)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{
		"Title":    subject,
		"SiteName": siteName,
		"Data":     data,
	}); err != nil {
		return "", "", "", fmt.Errorf("render %s template: %w", name, err)
	}
	return subject, buf.String(), text, nil
}

func purchaseConfirmationText(d PurchaseConfirmationData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hi %s,\n\nThank you for your purchase.\n\n", d.OrganizationName)
	for _, l := range d.Lines {
		fmt.Fprintf(&sb, "  %s x%d  %s\n", l.Title, l.Quantity, l.LineTotal)
	}
	fmt.Fprintf(&sb, "\nTotal: %s %s\nReference: %s\nStatus: %s\n", d.Currency, d.Amount, d.ClientReference, d.Status)
	if d.TemporaryPassword != "" {
		fmt.Fprintf(&sb, "\nSign in with %s and the temporary password %s. You will be asked to change it on first sign-in.\n", d.LoginEmail, d.TemporaryPassword)
	}
	return sb.String()
}

func optionalLine(prefix, value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return prefix + value + "\n"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
