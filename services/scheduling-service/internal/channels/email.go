package channels

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender sends HTML email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	host string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@clinicsched.local"
	}
	return &SMTPSender{
		addr: net.JoinHostPort(host, port),
		host: host,
		from: from,
	}
}

func (s *SMTPSender) ProviderID() string {
	return "email-smtp"
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := s.send(ctx, msg); err != nil {
		return &DispatchError{Provider: s.ProviderID(), Err: err}
	}
	return nil
}

func (s *SMTPSender) send(ctx context.Context, msg Message) error {
	if strings.ContainsAny(msg.To, "\r\n") {
		return fmt.Errorf("invalid recipient %q", msg.To)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(buildMessage(s.from, msg))); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from string, msg Message) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n",
		from,
		headerValue(msg.To),
		headerValue(msg.Subject),
		msg.Body,
	)
}

var headerBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// headerValue keeps v on one header line.
func headerValue(v string) string {
	return headerBreaks.Replace(v)
}
