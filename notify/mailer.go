// Package notify sends account mails. Without SMTP settings it logs the
// message instead so local setups still see temporary passwords.
package notify

import (
	"fmt"
	"html"
	"net/smtp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/config"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Mailer struct {
	cfg     config.MailConfig
	appName string
	log     *zap.Logger
	send    sendFunc
}

func NewMailer(cfg config.MailConfig, appName string, log *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, appName: appName, log: log, send: smtp.SendMail}
}

// SendWelcome tells a new account holder how to sign in the first time.
func (m *Mailer) SendWelcome(to, name, tempPassword, loginURL string) error {
	if !m.cfg.Enabled() {
		m.log.Info("mail disabled, welcome message not sent",
			zap.String("to", to),
			zap.String("login_url", loginURL),
			zap.Bool("has_temp_password", tempPassword != ""),
		)
		return nil
	}

	subject := fmt.Sprintf("Your %s account", m.appName)
	var pw string
	if tempPassword != "" {
		pw = fmt.Sprintf(`<p>Your temporary password is <b>%s</b>. You will be asked to change it after signing in.</p>`,
			html.EscapeString(tempPassword))
	}
	body := fmt.Sprintf(`
<div style="font-family:Arial,sans-serif; font-size:14px; color:#222">
  <p>Hello %s,</p>
  <p>An account has been created for you on <b>%s</b>.</p>
  %s
  <p><a href="%s" style="display:inline-block; padding:10px 16px; background:#2563EB; color:#fff; text-decoration:none; border-radius:6px;">Sign in</a></p>
  <p>Or open this link directly: <a href="%s">%s</a></p>
</div>
`, html.EscapeString(name), html.EscapeString(m.appName), pw, loginURL, loginURL, loginURL)

	msg := buildMIME(m.appName, m.cfg.From, to, subject, body)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	}
	addr := m.cfg.SMTPHost + ":" + strconv.Itoa(m.cfg.SMTPPort)
	if err := m.send(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send welcome mail: %w", err)
	}
	return nil
}

func buildMIME(fromName, fromAddr, to, subject, body string) string {
	headers := []string{
		fmt.Sprintf("From: %s <%s>", fromName, fromAddr),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + body
}
