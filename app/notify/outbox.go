package notify

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// OutboxNotifier records outgoing mail as JSON lines instead of sending it.
// It is the development fallback when no SMTP transport is configured.
type OutboxNotifier struct {
	out *logrus.Logger
}

func NewOutboxNotifier(w io.Writer) *OutboxNotifier {
	out := logrus.New()
	out.SetOutput(w)
	out.SetLevel(logrus.InfoLevel)
	out.SetFormatter(&logrus.JSONFormatter{})

	return &OutboxNotifier{out: out}
}

func (n *OutboxNotifier) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return ErrEmptyRecipient
	}

	n.out.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
		"body":    body,
	}).Info("outgoing mail")
	return nil
}
