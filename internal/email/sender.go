// Package email delivers notification emails over SMTP.
package email

import (
	"context"
	"fmt"

	"qwork_backend/platform/config"
)

// NotificationEmail is the rendered view of one in-app notification.
type NotificationEmail struct {
	Tipo       string `json:"tipo"`
	Prioridade string `json:"prioridade"`
	Titulo     string `json:"titulo"`
	Mensagem   string `json:"mensagem"`
	LinkAcao   string `json:"linkAcao,omitempty"`
	BotaoTexto string `json:"botaoTexto,omitempty"`
}

// Sender sends application emails.
type Sender interface {
	SendNotificationEmail(ctx context.Context, toEmail string, n NotificationEmail) error
	SendCustomEmail(ctx context.Context, toEmail, subject, htmlContent string) error
}

// NoopSender drops every email. Used when SMTP is not configured.
type NoopSender struct{}

func (NoopSender) SendNotificationEmail(ctx context.Context, toEmail string, n NotificationEmail) error {
	return nil
}

func (NoopSender) SendCustomEmail(ctx context.Context, toEmail, subject, htmlContent string) error {
	return nil
}

// NewSender returns an SMTP sender, or a NoopSender when email is disabled.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}
	if cfg.GetSMTPHost() == "" || cfg.GetEmailFromAddress() == "" {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	), nil
}
