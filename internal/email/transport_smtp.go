package email

import (
	"context"
	"crypto/tls"
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPSettings configures SMTPTransport.
type SMTPSettings struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPTransport delivers through an SMTP relay with gomail.
type SMTPTransport struct {
	sender mailSender
	host   string
}

func NewSMTPTransport(s SMTPSettings) *SMTPTransport {
	d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	if s.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: s.Host}
	}
	return &SMTPTransport{sender: d, host: s.Host}
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Deliver(ctx context.Context, msg Message) error {
	m := buildMessage(msg)

	// gomail has no context support; the dial itself is bounded by its own timeout.
	done := make(chan error, 1)
	go func() { done <- t.sender.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp %s: %w", t.host, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp %s: %w", t.host, ctx.Err())
	}
}

func buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	if msg.FromName != "" {
		m.SetAddressHeader("From", msg.From, msg.FromName)
	} else {
		m.SetHeader("From", msg.From)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.HTML {
		m.SetBody("text/html", msg.Body)
	} else {
		m.SetBody("text/plain", msg.Body)
	}
	return m
}
