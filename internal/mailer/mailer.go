package mailer

import (
	"context"
	"fmt"

	"github.com/secure-ingress-home/apiserver/config"
	"go.uber.org/zap"
)

const (
	ProviderLog        = "log"
	ProviderSMTP       = "smtp"
	ProviderMailerSend = "mailersend"
)

// Mailer delivers a plain text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New returns the mailer for the configured provider.
func New(cfg config.EmailConfig, logger *zap.Logger) (Mailer, error) {
	switch cfg.Provider {
	case "", ProviderLog:
		return NewLogMailer(logger), nil
	case ProviderSMTP:
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.From, cfg.SMTPUser, cfg.SMTPPassword), nil
	case ProviderMailerSend:
		return NewMailerSendMailer(cfg.MailerSendKey, cfg.FromName, cfg.From)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// LogMailer writes emails to the log instead of sending them. Useful for
// local development.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("email (not sent)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
