// Package mailer sends notification mail through a relay host. Messages
// carry both a plain-text and an HTML body so any client renders something
// readable.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"portal-conductor/internal/domain"
)

// Config holds the relay settings. User enables SMTP AUTH; UseSSL dials
// with implicit TLS instead of the usual STARTTLS upgrade, while
// RequireTLS refuses delivery to relays that do not offer STARTTLS.
type Config struct {
	Host       string
	Port       int
	From       string
	User       string
	Password   string
	UseSSL     bool
	RequireTLS bool
}

// Message is one outbound mail.
type Message struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// Mailer delivers messages through the configured relay.
type Mailer struct {
	addr   string
	from   string
	logger *slog.Logger

	// send is swappable for tests.
	send func(addr, from string, to []string, msg []byte) error
}

// New creates a mailer for the given relay.
func New(cfg Config, logger *slog.Logger) *Mailer {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	send := func(addr, from string, to []string, msg []byte) error {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	switch {
	case cfg.UseSSL:
		send = func(addr, from string, to []string, msg []byte) error {
			return sendImplicitTLS(addr, cfg.Host, auth, from, to, msg)
		}
	case cfg.RequireTLS:
		send = func(addr, from string, to []string, msg []byte) error {
			return sendStartTLS(addr, cfg.Host, auth, from, to, msg)
		}
	}
	return &Mailer{
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from:   cfg.From,
		logger: logger,
		send:   send,
	}
}

// sendImplicitTLS delivers over a connection that is TLS from the first
// byte, for relays that do not offer STARTTLS.
func sendImplicitTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	return deliver(client, auth, from, to, msg)
}

// sendStartTLS upgrades the connection before the envelope and fails if
// the relay does not advertise STARTTLS.
func sendStartTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return err
	}
	return deliver(client, auth, from, to, msg)
}

func deliver(client *smtp.Client, auth smtp.Auth, from string, to []string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// Send builds and delivers the message. The relay is on the local network,
// so there is no retry; callers treat delivery as best effort.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	return m.SendWithBCC(ctx, msg, nil)
}

// SendWithBCC delivers the message with extra envelope recipients that do
// not appear in the headers.
func (m *Mailer) SendWithBCC(ctx context.Context, msg Message, bcc []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return domain.ErrValidation("message has no recipients")
	}

	raw, err := buildMessage(m.from, msg, time.Now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	recipients := append(append([]string{}, msg.To...), bcc...)
	if err := m.send(m.addr, m.from, recipients, raw); err != nil {
		return domain.ErrServiceUnavailable("mail relay %s: %v", m.addr, err)
	}
	m.logger.Info("mail sent", "to", strings.Join(msg.To, ","), "subject", msg.Subject)
	return nil
}

// buildMessage renders the RFC 5322 wire form with a multipart/alternative
// body. The text part comes first so clients preferring plain text pick it.
func buildMessage(from string, msg Message, now time.Time) ([]byte, error) {
	var buf strings.Builder
	var body strings.Builder
	w := multipart.NewWriter(&body)

	writePart := func(contentType, content string) error {
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type": {contentType + "; charset=utf-8"},
		})
		if err != nil {
			return err
		}
		_, err = part.Write([]byte(content))
		return err
	}
	if err := writePart("text/plain", msg.TextBody); err != nil {
		return nil, err
	}
	if msg.HTMLBody != "" {
		if err := writePart("text/html", msg.HTMLBody); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", w.Boundary())
	buf.WriteString("\r\n")
	buf.WriteString(body.String())
	return []byte(buf.String()), nil
}
