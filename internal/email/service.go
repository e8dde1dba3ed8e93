// Package email sends invite links via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// InviteData fills the invite templates.
type InviteData struct {
	InviterName string
	PersonName  string
	InviteURL   string
	Role        string
	Language    string
}

func (s *Service) SendInvite(to string, data InviteData) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	to = strings.TrimSpace(to)
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}

	subject, text, html, err := renderInvite(data)
	if err != nil {
		return err
	}
	msg := s.buildMessage(to, subject, text, html)
	if err := s.sendMail(s.server, s.auth, s.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send invite email: %w", err)
	}
	return nil
}

func (s *Service) buildMessage(to, subject, text, html string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "tilly-boundary"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", text)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", html)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

func renderInvite(data InviteData) (subject, text, html string, err error) {
	inviter := strings.TrimSpace(data.InviterName)
	if inviter == "" {
		inviter = "Someone"
	}
	data.InviterName = inviter

	tmpl := inviteTemplates["en"]
	if t, ok := inviteTemplates[data.Language]; ok {
		tmpl = t
	}
	subject = fmt.Sprintf(tmpl.subject, inviter, data.PersonName)
	text = fmt.Sprintf(tmpl.text, inviter, data.PersonName, data.InviteURL)

	var buf bytes.Buffer
	if err := tmpl.html.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("render invite template: %w", err)
	}
	return subject, text, buf.String(), nil
}

type inviteTemplate struct {
	subject string
	text    string
	html    *template.Template
}

var inviteTemplates = map[string]inviteTemplate{
	"en": {
		subject: "%s shared %s with you on Tilly",
		text:    "%s invited you to keep track of %s together on Tilly.\r\n\r\nOpen this link to accept:\r\n%s",
		html:    template.Must(template.New("invite_en").Parse(inviteHTMLEn)),
	},
	"de": {
		subject: "%s hat %s auf Tilly mit dir geteilt",
		text:    "%s hat dich eingeladen, %s gemeinsam auf Tilly zu verfolgen.\r\n\r\nÖffne diesen Link zum Annehmen:\r\n%s",
		html:    template.Must(template.New("invite_de").Parse(inviteHTMLDe)),
	},
}

const inviteHTMLEn = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Tilly invite</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>{{.InviterName}} shared {{.PersonName}} with you</h2>
    <p>You can see and add notes and reminders for {{.PersonName}}{{if eq .Role "reader"}} (read only){{end}}.</p>
    <p><a href="{{.InviteURL}}" style="display: inline-block; padding: 12px 24px; background: #4a7c59; color: white; text-decoration: none; border-radius: 4px;">Accept invite</a></p>
    <p style="word-break: break-all; font-size: 12px; color: #666;">{{.InviteURL}}</p>
</body>
</html>`

const inviteHTMLDe = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Tilly Einladung</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>{{.InviterName}} hat {{.PersonName}} mit dir geteilt</h2>
    <p>Du kannst Notizen und Erinnerungen zu {{.PersonName}} sehen{{if ne .Role "reader"}} und hinzufügen{{end}}.</p>
    <p><a href="{{.InviteURL}}" style="display: inline-block; padding: 12px 24px; background: #4a7c59; color: white; text-decoration: none; border-radius: 4px;">Einladung annehmen</a></p>
    <p style="word-break: break-all; font-size: 12px; color: #666;">{{.InviteURL}}</p>
</body>
</html>`
