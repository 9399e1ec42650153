package devauth

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// Mailer delivers the verification email for a freshly issued OOB code.
type Mailer interface {
	SendVerification(to, schemeLink, httpsLink string) error
}

// SMTPConfig holds the connection settings for the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
}

// SMTPMailer sends verification emails over SMTP. Pointing it at a local
// capture server such as MailHog gives a clickable end-to-end loop in dev.
type SMTPMailer struct {
	config SMTPConfig
	client *mail.Client
}

const verificationSubject = "Verify your DorsuConnect email"

const verificationTextTemplate = `Welcome to DorsuConnect!

Open this link on your phone to verify your email address:

{{.SchemeLink}}

If the link above does not open, use this one instead:

{{.HTTPSLink}}

If you did not sign up, you can ignore this message.
`

const verificationHTMLTemplate = `<html><body>
<p>Welcome to DorsuConnect!</p>
<p><a href="{{.SchemeLink}}">Verify your email address</a></p>
<p>If the link above does not open, <a href="{{.HTTPSLink}}">use this one instead</a>.</p>
<p>If you did not sign up, you can ignore this message.</p>
</body></html>`

func NewSMTPMailer(config SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(30),
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if !config.TLS {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.NoTLS),
		)
	} else {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.TLSMandatory),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		slog.Error("Failed to create mail client", "err", err)
		return nil, err
	}

	return &SMTPMailer{config: config, client: client}, nil
}

func (m *SMTPMailer) SendVerification(to, schemeLink, httpsLink string) error {
	if to == "" {
		return fmt.Errorf("verification email requires a recipient")
	}

	data := struct {
		SchemeLink string
		HTTPSLink  string
	}{SchemeLink: schemeLink, HTTPSLink: httpsLink}

	textBody, err := renderTemplate("text", verificationTextTemplate, data)
	if err != nil {
		return err
	}
	htmlBody, err := renderTemplate("html", verificationHTMLTemplate, data)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.config.From); err != nil {
		return fmt.Errorf("failed to set from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("failed to set to address: %w", err)
	}
	msg.Subject(verificationSubject)
	msg.SetBodyString(mail.TypeTextPlain, textBody)
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)

	if err := m.client.DialAndSend(msg); err != nil {
		slog.Error("Failed to send verification email", "err", err)
		return err
	}

	slog.Info("Verification email delivered", "to", to, "host", m.config.Host)
	return nil
}

func renderTemplate(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
