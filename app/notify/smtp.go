package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-credentials/config"
	"gopkg.in/gomail.v2"
)

var ErrEmptyRecipient = errors.New("email recipient is empty")

type SMTPNotifier struct {
	from    string
	timeout time.Duration
	sender  gomail.Sender
	dial    func() (gomail.SendCloser, error)
	logger  logrus.FieldLogger
}

func NewSMTPNotifier(cfg config.MailConfig, logger logrus.FieldLogger) *SMTPNotifier {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	return &SMTPNotifier{
		from:    cfg.From,
		timeout: cfg.Timeout,
		dial:    d.Dial,
		logger:  logger,
	}
}

// WithSender replaces the SMTP dialer, mainly for tests.
func (n *SMTPNotifier) WithSender(s gomail.Sender) *SMTPNotifier {
	n.sender = s
	return n
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return ErrEmptyRecipient
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- n.deliver(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("send email: %w", ctx.Err())
	}

	n.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Email sent")
	return nil
}

func (n *SMTPNotifier) deliver(m *gomail.Message) error {
	if n.sender != nil {
		return gomail.Send(n.sender, m)
	}

	s, err := n.dial()
	if err != nil {
		return err
	}
	defer s.Close()

	return gomail.Send(s, m)
}
