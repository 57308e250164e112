// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"crypto/tls"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/stepup/internal/auth"
)

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendFunc delivers one RFC 5322 message.
type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier delivers messages through an SMTP relay using STARTTLS when
// the server offers it.
type SMTPNotifier struct {
	cfg  SMTPConfig
	from mail.Address
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

// NewSMTPNotifier validates cfg and creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, oops.Code("SMTP_INVALID_CONFIG").Errorf("smtp host is required")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, oops.Code("SMTP_INVALID_CONFIG").With("from", cfg.From).Wrap(err)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	n := &SMTPNotifier{cfg: cfg, from: *from, send: sendMail, now: time.Now}
	if cfg.Username != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return n, nil
}

// Send implements auth.Notifier.
func (n *SMTPNotifier) Send(ctx context.Context, msg auth.Message) error {
	to, err := mail.ParseAddress(msg.Recipient)
	if err != nil {
		return oops.Code("SMTP_INVALID_RECIPIENT").With("recipient", msg.Recipient).Wrap(err)
	}
	to.Name = msg.Name

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	body := n.compose(to, msg)
	if err := n.send(ctx, addr, n.auth, n.from.Address, []string{to.Address}, body); err != nil {
		return oops.Code("SMTP_SEND_FAILED").
			With("host", n.cfg.Host).
			With("recipient", to.Address).
			Wrap(err)
	}
	return nil
}

func (n *SMTPNotifier) compose(to *mail.Address, msg auth.Message) []byte {
	headers := []string{
		"From: " + n.from.String(),
		"To: " + to.String(),
		"Subject: " + headerSafe(msg.Title),
		"Date: " + n.now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		strings.ReplaceAll(msg.Body, "\n", "\r\n"),
	}
	return []byte(strings.Join(headers, "\r\n"))
}

// headerSafe drops line breaks so a title cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}

// sendMail is smtp.SendMail with the dial and the whole exchange bounded by ctx.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if a != nil {
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
