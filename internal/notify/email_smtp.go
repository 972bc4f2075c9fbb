package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/agency-leads/pkg/logging"
)

// SMTPConfig holds configuration for a plain SMTP relay.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// SMTPSender delivers mail through an SMTP relay, upgrading to TLS when the
// server offers STARTTLS.
type SMTPSender struct {
	addr      string
	host      string
	auth      smtp.Auth
	fromEmail string
	fromName  string
	logger    *logging.Logger
	now       func() time.Time
}

// NewSMTPSender returns nil when no host is configured.
func NewSMTPSender(cfg SMTPConfig, logger *logging.Logger) *SMTPSender {
	if cfg.Host == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:      cfg.Host,
		auth:      auth,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
		now:       time.Now,
	}
}

// Send dials the relay and delivers one message. The context deadline
// bounds the whole SMTP conversation.
func (s *SMTPSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil {
		return fmt.Errorf("notify: smtp sender not configured")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("notify: smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("notify: smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("notify: smtp starttls: %w", err)
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return Permanent(fmt.Errorf("smtp auth: %w", err))
			}
		}
	}
	if err := c.Mail(s.fromEmail); err != nil {
		return fmt.Errorf("notify: smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		if isPermanentSMTP(err) {
			return Permanent(fmt.Errorf("smtp RCPT TO: %w", err))
		}
		return fmt.Errorf("notify: smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("notify: smtp DATA: %w", err)
	}
	if _, err := w.Write(s.buildMessage(msg)); err != nil {
		return fmt.Errorf("notify: smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: smtp DATA close: %w", err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Warn("smtp quit failed after delivery", "error", err, "to", msg.To)
	}
	s.logger.Debug("email sent via smtp", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (s *SMTPSender) buildMessage(msg EmailMessage) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k + ": " + v + "\r\n")
	}
	header("From", formatAddress(s.fromName, s.fromEmail))
	header("To", formatAddress(msg.ToName, msg.To))
	if msg.ReplyTo != "" {
		header("Reply-To", msg.ReplyTo)
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", s.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return mime.QEncoding.Encode("utf-8", name) + " <" + addr + ">"
}

// 5xx replies are permanent in SMTP.
func isPermanentSMTP(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

// plainToHTML renders a plain-text body as minimal HTML for providers that
// want both parts.
func plainToHTML(body string) string {
	escaped := html.EscapeString(body)
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}

var _ EmailSender = (*SMTPSender)(nil)
