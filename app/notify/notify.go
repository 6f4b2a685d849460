package notify

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-credentials/config"
)

// Notifier delivers a plain-text message to an email address. A non-nil error
// means the message was not handed off.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New returns an SMTP notifier when the mail transport is configured and an
// outbox notifier otherwise. The returned closer releases the outbox file.
func New(cfg config.MailConfig, logger logrus.FieldLogger) (Notifier, io.Closer, error) {
	if cfg.SMTPEnabled() {
		logger.WithField("host", cfg.SMTPHost).Info("Mail delivery via SMTP")
		return NewSMTPNotifier(cfg, logger), nopCloser{}, nil
	}

	if cfg.OutboxFile == "" {
		logger.Warn("SMTP not configured, writing outgoing mail to stdout")
		return NewOutboxNotifier(os.Stdout), nopCloser{}, nil
	}

	f, err := os.OpenFile(cfg.OutboxFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open mail outbox: %w", err)
	}
	logger.WithField("file", cfg.OutboxFile).Warn("SMTP not configured, writing outgoing mail to outbox file")
	return NewOutboxNotifier(f), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
