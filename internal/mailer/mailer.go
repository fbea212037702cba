// Package mailer отправляет исходящую почту донорам.
package mailer

import (
	"bytes"
	"context"
	"fmt"

	mail "github.com/wneessen/go-mail"
)

// Attachment описывает вложение письма.
type Attachment struct {
	Filename string
	Data     []byte
}

// Message описывает исходящее письмо.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Mailer описывает контракт транспорта электронной почты.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer отправляет письма через SMTP.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer создаёт SMTP-транспорт. Учётные данные опциональны
// для серверов без аутентификации.
func NewSMTPMailer(host string, port int, user, password, from string) (*SMTPMailer, error) {
	opts := []mail.Option{mail.WithPort(port)}
	if user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(user),
			mail.WithPassword(password),
		)
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPMailer{client: client, from: from}, nil
}

// Send отправляет письмо с вложениями.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	mm := mail.NewMsg()

	if err := mm.From(m.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := mm.To(msg.To); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}

	mm.Subject(msg.Subject)
	mm.SetBodyString(mail.TypeTextHTML, msg.HTML)

	for _, a := range msg.Attachments {
		if err := mm.AttachReader(a.Filename, bytes.NewReader(a.Data)); err != nil {
			return fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}

	if err := m.client.DialAndSendWithContext(ctx, mm); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
